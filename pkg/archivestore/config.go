package archivestore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-logarchive/pkg/archive"
	"gopkg.in/yaml.v3"
)

// Service names for the supported object storage backends. Exactly one is
// active per sink instance.
const (
	ServiceAWSS3     = "aws_s3"
	ServiceAzureBlob = "azure_blob"
	ServiceGCS       = "gcp_cloud_storage"
)

// UnsupportedServiceError reports a service name outside the supported set.
type UnsupportedServiceError struct {
	Service string
}

func (e *UnsupportedServiceError) Error() string {
	return fmt.Sprintf("unsupported service: %s", e.Service)
}

// UnsupportedStorageClassError reports a storage class the archive access
// pattern cannot use.
type UnsupportedStorageClassError struct {
	StorageClass string
}

func (e *UnsupportedStorageClassError) Error() string {
	return fmt.Sprintf("unsupported storage class: %s", e.StorageClass)
}

// SinkConfig is the YAML surface of one archive sink instance.
type SinkConfig struct {
	// Service selects the backend: aws_s3, azure_blob, or gcp_cloud_storage.
	Service string `yaml:"service"`
	// Bucket is the destination bucket or container name.
	Bucket string `yaml:"bucket"`
	// KeyPrefix is prepended to all object keys. A trailing slash is not
	// added automatically.
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	Batch    BatchSettings    `yaml:"batch,omitempty"`
	Request  RequestSettings  `yaml:"request,omitempty"`
	Encoding EncodingSettings `yaml:"encoding,omitempty"`

	AWSS3     *S3BackendConfig    `yaml:"aws_s3,omitempty"`
	AzureBlob *AzureBackendConfig `yaml:"azure_blob,omitempty"`
	GCS       *GCSBackendConfig   `yaml:"gcp_cloud_storage,omitempty"`
}

// BatchSettings override the default flush policy. Zero values keep the
// defaults (100 MB, 900 s).
type BatchSettings struct {
	MaxBytes    int `yaml:"max_bytes,omitempty"`
	TimeoutSecs int `yaml:"timeout_secs,omitempty"`
}

func (s BatchSettings) policy() BatchPolicy {
	return BatchPolicy{
		MaxBytes:     s.MaxBytes,
		FlushTimeout: time.Duration(s.TimeoutSecs) * time.Second,
	}
}

// RequestSettings bound the dispatcher. Zero values keep the defaults.
type RequestSettings struct {
	Concurrency   int `yaml:"concurrency,omitempty"`
	RetryAttempts int `yaml:"retry_attempts,omitempty"`
	TimeoutSecs   int `yaml:"timeout_secs,omitempty"`
}

func (s RequestSettings) dispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Concurrency:    s.Concurrency,
		MaxAttempts:    s.RetryAttempts,
		RequestTimeout: time.Duration(s.TimeoutSecs) * time.Second,
	}
}

// EncodingSettings restrict which top-level record fields are serialized.
type EncodingSettings struct {
	OnlyFields   []string `yaml:"only_fields,omitempty"`
	ExceptFields []string `yaml:"except_fields,omitempty"`
}

func (s EncodingSettings) fieldFilter() archive.FieldFilter {
	return archive.FieldFilter{OnlyFields: s.OnlyFields, ExceptFields: s.ExceptFields}
}

// S3BackendConfig holds the S3-specific object options.
type S3BackendConfig struct {
	Region string `yaml:"region,omitempty"`
	// Endpoint overrides the S3 endpoint, e.g. for an S3-compatible store.
	Endpoint string `yaml:"endpoint,omitempty"`
	// ACL is a canned ACL applied to created objects.
	ACL              string `yaml:"acl,omitempty"`
	GrantFullControl string `yaml:"grant_full_control,omitempty"`
	GrantRead        string `yaml:"grant_read,omitempty"`
	GrantReadACP     string `yaml:"grant_read_acp,omitempty"`
	GrantWriteACP    string `yaml:"grant_write_acp,omitempty"`
	// ServerSideEncryption names the encryption algorithm for created
	// objects; SSEKMSKeyID selects the KMS key when it is aws:kms.
	ServerSideEncryption string `yaml:"server_side_encryption,omitempty"`
	SSEKMSKeyID          string `yaml:"ssekms_key_id,omitempty"`
	StorageClass         string `yaml:"storage_class,omitempty"`
	// Tags is the tag-set applied to created objects.
	Tags map[string]string `yaml:"tags,omitempty"`
}

// AzureBackendConfig holds the Azure Blob Storage options.
type AzureBackendConfig struct {
	// ConnectionString authenticates against the storage account. Access-key
	// authentication is the only supported method.
	ConnectionString string `yaml:"connection_string"`
}

// GCSBackendConfig holds the Cloud Storage object options. All fields are
// optional; an absent block falls back to application default credentials
// and bucket defaults.
type GCSBackendConfig struct {
	ACL          string `yaml:"acl,omitempty"`
	StorageClass string `yaml:"storage_class,omitempty"`
	// Metadata is the set of custom key:value pairs stamped on created
	// objects.
	Metadata        map[string]string `yaml:"metadata,omitempty"`
	CredentialsFile string            `yaml:"credentials_file,omitempty"`
}

// LoadSinkConfig reads, parses, and validates a sink configuration file.
func LoadSinkConfig(path string) (*SinkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sink config %s: %w", path, err)
	}
	cfg := &SinkConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sink config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sink config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the backend selection and its option bundle. Failures are
// fatal at construction; the sink never starts against a configuration it
// cannot honor.
func (c *SinkConfig) Validate() error {
	switch c.Service {
	case ServiceAWSS3:
		if c.AWSS3 == nil {
			return errors.New("aws_s3 options are required when service is aws_s3")
		}
		if err := validateS3StorageClass(c.AWSS3.StorageClass); err != nil {
			return err
		}
	case ServiceAzureBlob:
		if c.AzureBlob == nil || c.AzureBlob.ConnectionString == "" {
			return errors.New("azure_blob.connection_string is required when service is azure_blob")
		}
	case ServiceGCS:
		// All Cloud Storage options are optional.
	default:
		return &UnsupportedServiceError{Service: c.Service}
	}
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}
