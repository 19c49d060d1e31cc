package persist

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
Conn wraps a minio client bound to a single bucket. The endpoint and
credentials come from the environment (S3_ENDPOINT, S3_ACCESS_KEY,
S3_SECRET_KEY, S3_USE_SSL) unless options override them.
*/
type Conn struct {
	client    *minio.Client
	endpoint  string
	accessKey string
	secretKey string
	useSSL    bool
	bucket    string
}

type ConnOption func(*Conn)

func NewConn(options ...ConnOption) *Conn {
	useSSL, _ := strconv.ParseBool(os.Getenv("S3_USE_SSL"))

	conn := &Conn{
		endpoint:  os.Getenv("S3_ENDPOINT"),
		accessKey: os.Getenv("S3_ACCESS_KEY"),
		secretKey: os.Getenv("S3_SECRET_KEY"),
		useSSL:    useSSL,
		bucket:    "memory",
	}

	for _, option := range options {
		option(conn)
	}

	return conn
}

/*
Connect dials the endpoint and creates the bucket when it does not
exist yet. Safe to call more than once.
*/
func (conn *Conn) Connect(ctx context.Context) error {
	if conn.client != nil {
		return nil
	}

	client, err := minio.New(conn.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conn.accessKey, conn.secretKey, ""),
		Secure: conn.useSSL,
	})

	if err != nil {
		return errors.ErrBackendUnavailable.Wrap(err)
	}

	exists, err := client.BucketExists(ctx, conn.bucket)
	if err != nil {
		return errors.ErrBackendUnavailable.Wrap(err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, conn.bucket, minio.MakeBucketOptions{}); err != nil {
			return errors.ErrStorage.Wrap(err)
		}

		log.Debug("created bucket", "bucket", conn.bucket)
	}

	conn.client = client
	return nil
}

func (conn *Conn) Put(ctx context.Context, key string, data []byte) error {
	if conn.client == nil {
		return errors.ErrBackendUnavailable.WithMessagef("connection is not established")
	}

	_, err := conn.client.PutObject(
		ctx, conn.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)

	if err != nil {
		return errors.ErrStorage.Wrap(err)
	}

	return nil
}

func (conn *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	if conn.client == nil {
		return nil, errors.ErrBackendUnavailable.WithMessagef("connection is not established")
	}

	obj, err := conn.client.GetObject(ctx, conn.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.ErrStorage.Wrap(err)
	}

	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.ErrNotFound.WithMessagef("no object at %s", key)
		}

		return nil, errors.ErrStorage.Wrap(err)
	}

	return data, nil
}

func (conn *Conn) List(ctx context.Context, prefix string) ([]string, error) {
	if conn.client == nil {
		return nil, errors.ErrBackendUnavailable.WithMessagef("connection is not established")
	}

	var keys []string

	for obj := range conn.client.ListObjects(ctx, conn.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, errors.ErrStorage.Wrap(obj.Err)
		}

		keys = append(keys, obj.Key)
	}

	return keys, nil
}

func (conn *Conn) Remove(ctx context.Context, key string) error {
	if conn.client == nil {
		return errors.ErrBackendUnavailable.WithMessagef("connection is not established")
	}

	if err := conn.client.RemoveObject(ctx, conn.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.ErrStorage.Wrap(err)
	}

	return nil
}

func WithEndpoint(endpoint string) ConnOption {
	return func(conn *Conn) {
		conn.endpoint = endpoint
	}
}

func WithCredentials(accessKey, secretKey string) ConnOption {
	return func(conn *Conn) {
		conn.accessKey = accessKey
		conn.secretKey = secretKey
	}
}

func WithBucket(bucket string) ConnOption {
	return func(conn *Conn) {
		conn.bucket = bucket
	}
}

func WithSSL(useSSL bool) ConnOption {
	return func(conn *Conn) {
		conn.useSSL = useSSL
	}
}
