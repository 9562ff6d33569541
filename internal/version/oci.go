package version

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/jpalmerr/devpulse/source"
)

// OCISource treats the highest semver tag of an image repository as the
// latest release.
type OCISource struct {
	repo       name.Repository
	includePre bool
	opts       []remote.Option
}

// OCIOption configures an [OCISource].
type OCIOption func(*ociSettings)

type ociSettings struct {
	insecure   bool
	includePre bool
	remote     []remote.Option
}

// WithInsecure talks plain HTTP to the registry.
func WithInsecure() OCIOption {
	return func(s *ociSettings) { s.insecure = true }
}

// WithPrereleases considers pre-release tags.
func WithPrereleases() OCIOption {
	return func(s *ociSettings) { s.includePre = true }
}

// WithRemoteOptions passes extra options (transport, auth) to the registry client.
func WithRemoteOptions(opts ...remote.Option) OCIOption {
	return func(s *ociSettings) { s.remote = append(s.remote, opts...) }
}

// NewOCISource creates a source for repository, e.g. "ghcr.io/acme/devpulse".
// Credentials come from the default docker keychain.
func NewOCISource(repository string, opts ...OCIOption) (*OCISource, error) {
	var s ociSettings
	for _, opt := range opts {
		opt(&s)
	}

	var nameOpts []name.Option
	if s.insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	repo, err := name.NewRepository(repository, nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("parse repository %q: %w", repository, err)
	}

	remoteOpts := append([]remote.Option{remote.WithAuthFromKeychain(authn.DefaultKeychain)}, s.remote...)
	return &OCISource{repo: repo, includePre: s.includePre, opts: remoteOpts}, nil
}

// Latest lists the repository tags and returns the highest version.
func (o *OCISource) Latest(ctx context.Context) (Release, error) {
	opts := append([]remote.Option{remote.WithContext(ctx)}, o.opts...)
	tags, err := remote.List(o.repo, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return Release{}, source.AsFetchError(ctx.Err())
		}
		return Release{}, source.Upstream(fmt.Sprintf("list tags %s", o.repo), err)
	}

	tag, _, ok := Newest(tags, o.includePre)
	if !ok {
		return Release{}, source.ParseFailure(fmt.Sprintf("no version tags in %s", o.repo), nil)
	}

	return Release{
		Version: tag,
		URL:     o.repo.Tag(tag).String(),
	}, nil
}

// String names the source for logs.
func (o *OCISource) String() string {
	return "oci:" + o.repo.String()
}
