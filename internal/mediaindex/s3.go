package mediaindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/maauso/downloads-bridge/internal/mediaindex/id"
	"github.com/maauso/downloads-bridge/internal/storage"
)

var _ storage.MediaIndex = (*S3Index)(nil)

// Object metadata keys written by S3Index.
const (
	metaPending     = "pending"
	metaDisplayName = "display-name"
	metaRelative    = "relative-path"
	metaDataPath    = "data-path"
)

// S3Config holds the configuration for the S3 index.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string // Optional: key prefix for all entries
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Index stores entries as objects in a bucket. The pending flag is kept
// in object metadata and publishing rewrites it in place.
type S3Index struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Index creates a new S3Index instance.
func NewS3Index(cfg S3Config) (*S3Index, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Index{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Insert creates an empty object carrying the entry metadata. The object key
// is derived from a generated id only; the display name is kept in metadata.
func (x *S3Index) Insert(ctx context.Context, collection storage.Collection, values storage.Values) (storage.Handle, error) {
	key := path.Join(x.prefix, string(collection), id.Generate())

	meta := map[string]string{
		metaPending:     "0",
		metaDisplayName: encodeMeta(values.DisplayName),
	}
	if values.Pending != nil && *values.Pending {
		meta[metaPending] = "1"
	}
	if values.RelativePath != "" {
		meta[metaRelative] = encodeMeta(values.RelativePath)
	}
	if values.DataPath != "" {
		meta[metaDataPath] = encodeMeta(values.DataPath)
	}

	_, err := x.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(x.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(nil),
		ContentType: contentType(values.MimeType),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	return x.handle(key), nil
}

// OpenWriter returns a writer that uploads its content when closed.
func (x *S3Index) OpenWriter(ctx context.Context, h storage.Handle) (io.WriteCloser, error) {
	key, err := x.key(h)
	if err != nil {
		return nil, err
	}
	head, err := x.head(ctx, key)
	if err != nil {
		return nil, err
	}
	if metaValue(head.Metadata, metaDataPath) != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotWritable, h)
	}
	return &s3Writer{
		ctx:         ctx,
		index:       x,
		key:         key,
		contentType: head.ContentType,
		meta:        head.Metadata,
	}, nil
}

// Update rewrites the object metadata with the non-zero fields of values.
func (x *S3Index) Update(ctx context.Context, h storage.Handle, values storage.Values) error {
	key, err := x.key(h)
	if err != nil {
		return err
	}
	head, err := x.head(ctx, key)
	if err != nil {
		return err
	}

	meta := make(map[string]string, len(head.Metadata)+1)
	for k, v := range head.Metadata {
		meta[strings.ToLower(k)] = v
	}
	if values.DisplayName != "" {
		meta[metaDisplayName] = encodeMeta(values.DisplayName)
	}
	if values.RelativePath != "" {
		meta[metaRelative] = encodeMeta(values.RelativePath)
	}
	if values.DataPath != "" {
		meta[metaDataPath] = encodeMeta(values.DataPath)
	}
	if values.Pending != nil {
		meta[metaPending] = "0"
		if *values.Pending {
			meta[metaPending] = "1"
		}
	}
	ct := head.ContentType
	if values.MimeType != "" {
		ct = aws.String(values.MimeType)
	}

	_, err = x.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(x.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(x.bucket, key)),
		ContentType:       ct,
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

// Delete removes the entry object.
func (x *S3Index) Delete(ctx context.Context, h storage.Handle) error {
	key, err := x.key(h)
	if err != nil {
		return err
	}
	_, err = x.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(x.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Open returns the content of a published entry. Entries registered by
// absolute path only hold metadata and yield ErrNotManaged.
// The caller is responsible for closing the returned ReadCloser.
func (x *S3Index) Open(ctx context.Context, h storage.Handle) (io.ReadCloser, error) {
	key, err := x.key(h)
	if err != nil {
		return nil, err
	}
	out, err := x.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(x.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, h)
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	if metaValue(out.Metadata, metaPending) == "1" {
		_ = out.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrEntryPending, h)
	}
	if metaValue(out.Metadata, metaDataPath) != "" {
		_ = out.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotManaged, h)
	}
	return out.Body, nil
}

func (x *S3Index) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := x.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(x.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, key)
		}
		return nil, fmt.Errorf("head entry: %w", err)
	}
	return out, nil
}

// handle formats the handle of an object.
// Format: s3://<bucket>/<key>
func (x *S3Index) handle(key string) storage.Handle {
	return storage.Handle("s3://" + x.bucket + "/" + key)
}

// key extracts the object key from a handle issued by this index.
func (x *S3Index) key(h storage.Handle) (string, error) {
	key, ok := strings.CutPrefix(string(h), "s3://"+x.bucket+"/")
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return key, nil
}

// s3Writer buffers entry content and uploads it on Close.
type s3Writer struct {
	ctx         context.Context
	index       *S3Index
	key         string
	contentType *string
	meta        map[string]string
	buf         bytes.Buffer
	closed      bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed entry writer")
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.index.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.index.bucket),
		Key:         aws.String(w.key),
		Body:        bytes.NewReader(w.buf.Bytes()),
		ContentType: w.contentType,
		Metadata:    w.meta,
	})
	if err != nil {
		return fmt.Errorf("upload entry content: %w", err)
	}
	return nil
}

func contentType(mime string) *string {
	if mime == "" {
		return nil
	}
	return aws.String(mime)
}

// metaValue looks up a metadata key case-insensitively and decodes it.
func metaValue(meta map[string]string, key string) string {
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return decodeMeta(v)
		}
	}
	return ""
}

// encodeMeta escapes v so it travels as an ASCII header value.
func encodeMeta(v string) string {
	return url.PathEscape(v)
}

func decodeMeta(v string) string {
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}

// copySource builds the URL-encoded "bucket/key" copy source.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
