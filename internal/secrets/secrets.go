// Package secrets fetches TSS key material named by a reference such as
// env:TON_GATEWAY_TSS_KEY, file:/run/secrets/tss_key or aws:<secret id>.
// Fetched values never appear in errors or formatted output.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// MaxSecretSize bounds a fetched value. Key material is far smaller.
const MaxSecretSize = 4 << 10

var (
	ErrInvalidRef = errors.New("secrets: invalid reference")
	ErrMissing    = errors.New("secrets: missing")
	ErrTooLarge   = errors.New("secrets: value too large")
)

type Backend string

const (
	BackendEnv  Backend = "env"
	BackendFile Backend = "file"
	BackendAWS  Backend = "aws"
)

// Ref names a secret within a backend.
type Ref struct {
	Backend Backend
	Name    string
}

// ParseRef reads "backend:name". A bare name is an environment variable.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	backend, name, ok := strings.Cut(s, ":")
	if !ok {
		backend, name = string(BackendEnv), s
	}
	r := Ref{Backend: Backend(strings.ToLower(strings.TrimSpace(backend))), Name: strings.TrimSpace(name)}
	if r.Name == "" {
		return Ref{}, fmt.Errorf("%w: %q has no name", ErrInvalidRef, s)
	}
	switch r.Backend {
	case BackendEnv, BackendAWS:
	case BackendFile:
		r.Name = filepath.Clean(r.Name)
	default:
		return Ref{}, fmt.Errorf("%w: unknown backend %q", ErrInvalidRef, backend)
	}
	return r, nil
}

func (r Ref) String() string { return string(r.Backend) + ":" + r.Name }

// Secret is fetched key material. It formats as [redacted]; Reveal returns
// the value.
type Secret struct {
	value string
}

func (s Secret) Reveal() string   { return s.value }
func (s Secret) String() string   { return "[redacted]" }
func (s Secret) GoString() string { return "secrets.Secret{[redacted]}" }

func newSecret(raw []byte, r Ref) (Secret, error) {
	if len(raw) > MaxSecretSize {
		return Secret{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, r, MaxSecretSize)
	}
	v := strings.TrimSpace(string(raw))
	if v == "" {
		return Secret{}, fmt.Errorf("%w: %s is empty", ErrMissing, r)
	}
	return Secret{value: v}, nil
}

// Source serves the secrets of one backend.
type Source interface {
	Fetch(ctx context.Context, name string) (Secret, error)
}

// Sources routes a Ref to the Source of its backend.
type Sources map[Backend]Source

func (s Sources) Fetch(ctx context.Context, r Ref) (Secret, error) {
	src, ok := s[r.Backend]
	if !ok || src == nil {
		return Secret{}, fmt.Errorf("%w: no source for backend %q", ErrInvalidRef, r.Backend)
	}
	return src.Fetch(ctx, r.Name)
}

// Resolve fetches r from the process environment, the filesystem or AWS
// Secrets Manager. AWS credentials are only loaded for aws refs.
func Resolve(ctx context.Context, r Ref) (Secret, error) {
	sources := Sources{BackendEnv: Env{}, BackendFile: Files{}}
	if r.Backend == BackendAWS {
		a, err := NewAWS(ctx)
		if err != nil {
			return Secret{}, err
		}
		sources[BackendAWS] = a
	}
	return sources.Fetch(ctx, r)
}

// Env reads environment variables.
type Env struct{}

func (Env) Fetch(_ context.Context, name string) (Secret, error) {
	r := Ref{Backend: BackendEnv, Name: name}
	v, ok := os.LookupEnv(name)
	if !ok {
		return Secret{}, fmt.Errorf("%w: %s is unset", ErrMissing, r)
	}
	return newSecret([]byte(v), r)
}

// Files reads one secret per file, the layout container runtimes use for
// mounted secrets.
type Files struct{}

func (Files) Fetch(_ context.Context, name string) (Secret, error) {
	r := Ref{Backend: BackendFile, Name: name}
	f, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return Secret{}, fmt.Errorf("%w: %s", ErrMissing, r)
	}
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: open %s: %w", r, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, MaxSecretSize+1))
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: read %s: %w", r, err)
	}
	return newSecret(raw, r)
}

type secretsManager interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWS reads from Secrets Manager; the name is a secret id or ARN.
type AWS struct {
	client secretsManager
}

func NewAWS(ctx context.Context) (*AWS, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client secretsManager) (*AWS, error) {
	if client == nil {
		return nil, errors.New("secrets: nil secrets manager client")
	}
	return &AWS{client: client}, nil
}

func (a *AWS) Fetch(ctx context.Context, name string) (Secret, error) {
	r := Ref{Backend: BackendAWS, Name: name}
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: fetch %s: %w", r, err)
	}
	if out.SecretString != nil && strings.TrimSpace(*out.SecretString) != "" {
		return newSecret([]byte(*out.SecretString), r)
	}
	return newSecret(out.SecretBinary, r)
}
