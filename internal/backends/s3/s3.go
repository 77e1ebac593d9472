// Package s3 implements cloud.Service over one S3-compatible bucket.
//
// Object keys are file ids. Folders are zero-byte keys ending in "/", and
// the listing of a folder is its key prefix with "/" as delimiter. Trashed
// objects are moved under TrashPrefix.
package s3

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/pkg/errors"
)

const (
	ServiceName   = "s3"
	TrashPrefix   = ".trash/"
	DefaultRegion = "us-east-1"
)

// ObjectAPI is the part of *s3.Client the backend uses.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Settings locate the bucket. Endpoint is set for MinIO and other
// S3-compatible stores and switches to path-style addressing.
type Settings struct {
	Bucket   string
	Region   string
	Endpoint string
	// DefaultCredentials lets an instance without a stored token use the
	// AWS default credential chain.
	DefaultCredentials bool
}

type Option func(*Service)

// WithAPI replaces the SDK client, e.g. with a fake.
func WithAPI(api ObjectAPI) Option {
	return func(s *Service) { s.api = api }
}

func WithCache(ttl time.Duration) Option {
	cache := cloud.NewListCache(ttl)
	return func(s *Service) { s.cache = cache }
}

type Service struct {
	settings Settings
	token    string
	api      ObjectAPI
	cache    *cloud.ListCache
}

func New(settings Settings, token string, opts ...Option) *Service {
	if settings.Region == "" {
		settings.Region = DefaultRegion
	}
	s := &Service{settings: settings, token: token}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func Constructor(settings Settings, opts ...Option) cloud.Constructor {
	return func(token string) (cloud.Service, error) {
		return New(settings, token, opts...), nil
	}
}

func (s *Service) Name() string { return ServiceName }

func (s *Service) IsAuthenticated() bool {
	return s.api != nil || s.token != "" || s.settings.DefaultCredentials
}

// EncodeToken joins an access key pair into the stored token form.
func EncodeToken(accessKeyID, secretAccessKey string) string {
	return accessKeyID + ":" + secretAccessKey
}

func decodeToken(token string) (string, string, bool) {
	id, secret, ok := strings.Cut(token, ":")
	return id, secret, ok && id != "" && secret != ""
}

// Authenticate accepts a token in "ACCESS_KEY_ID:SECRET" form, or the pair
// in Extra["access_key_id"] and Extra["secret_access_key"], and checks that
// the bucket is reachable with it.
func (s *Service) Authenticate(ctx context.Context, creds cloud.Credentials) (string, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return "", err
	}
	token := creds.Token
	if token == "" && creds.Extra != nil {
		token = EncodeToken(creds.Extra["access_key_id"], creds.Extra["secret_access_key"])
	}
	if _, _, ok := decodeToken(token); !ok {
		return "", cloud.NewAuthError(ServiceName, "access key id and secret access key are required")
	}

	candidate := New(s.settings, token)
	api, err := candidate.client(ctx)
	if err != nil {
		return "", err
	}
	if _, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.settings.Bucket)}); err != nil {
		if err := classify("check bucket "+s.settings.Bucket, err); cloud.IsAuthError(err) {
			return "", err
		}
		return "", &cloud.AuthenticationError{ServiceError: cloud.ServiceError{
			Service: ServiceName, Message: "check bucket " + s.settings.Bucket, Err: err,
		}}
	}
	s.token = token
	s.api = api
	return token, nil
}

// client builds the SDK client on first use.
func (s *Service) client(ctx context.Context) (ObjectAPI, error) {
	if err := cloud.CheckContext(ctx, ServiceName); err != nil {
		return nil, err
	}
	if s.api != nil {
		return s.api, nil
	}
	if s.settings.Bucket == "" {
		return nil, cloud.NewServiceError(ServiceName, "no bucket configured", nil)
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(s.settings.Region)}
	if id, secret, ok := decodeToken(s.token); ok {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, "")))
	} else if !s.settings.DefaultCredentials {
		return nil, cloud.NewAuthError(ServiceName, "Not authenticated with S3")
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, cloud.NewServiceError(ServiceName, "load AWS config", err)
	}
	s.api = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.settings.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s.api, nil
}

// classify maps SDK errors onto the service error taxonomy.
func classify(op string, err error) error {
	if cloud.IsServiceError(err) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return cloud.NewServiceError(ServiceName, op+" failed: not found", cloud.ErrNotFound)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "AccessDenied", "Forbidden":
			return &cloud.AuthenticationError{ServiceError: cloud.ServiceError{Service: ServiceName, Message: op + " failed", Err: err}}
		case "QuotaExceeded", "InsufficientStorage":
			return cloud.QuotaError(ServiceName, op+" failed: "+apiErr.ErrorMessage())
		}
	}
	return cloud.NewServiceError(ServiceName, op+" failed", err)
}
