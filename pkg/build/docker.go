package build

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/docker/docker/api/types"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/go-kit/kit/log"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/shipd-io/shipd/pkg/image"
)

// Docker builds and pushes images through the docker engine API. The
// artifact handed to BuildImage is expected to be a tar build context
// with a Dockerfile at its root. It also satisfies registry.Registry
// (the one in pkg/registry), so the same client serves both the
// docker_build stage and the push stages.
type Docker struct {
	client client.APIClient
	auth   string // base64 auth config for pushes, may be empty
	logger log.Logger
}

type DockerConfig struct {
	Host     string // empty means take the client config from the environment
	Username string
	Password string
}

func NewDocker(cfg DockerConfig, logger log.Logger) (*Docker, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	} else {
		opts = append(opts, client.FromEnv)
	}
	dc, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating docker client")
	}

	var auth string
	if cfg.Username != "" {
		authConfig, err := json.Marshal(registry.AuthConfig{
			Username: cfg.Username,
			Password: cfg.Password,
		})
		if err != nil {
			return nil, err
		}
		auth = base64.URLEncoding.EncodeToString(authConfig)
	}

	return &Docker{client: dc, auth: auth, logger: logger}, nil
}

func (d *Docker) BuildImage(ctx context.Context, artifact []byte, ref image.Ref) (image.Image, error) {
	resp, err := d.client.ImageBuild(ctx, bytes.NewReader(artifact), types.ImageBuildOptions{
		Tags:   []string{ref.String()},
		Remove: true,
	})
	if err != nil {
		return image.Image{}, errors.Wrap(err, "starting image build")
	}
	defer resp.Body.Close()
	if err := drainBuildOutput(resp.Body); err != nil {
		return image.Image{}, errors.Wrap(err, "image build")
	}

	img := image.Image{Ref: ref, Outcome: image.ScanUnknown}
	inspect, _, err := d.client.ImageInspectWithRaw(ctx, ref.String())
	if err != nil {
		d.logger.Log("inspect", ref.String(), "err", err)
		return img, nil // digest is best-effort; the tag is authoritative
	}
	if inspect.ID != "" {
		img.Digest = digest.Digest(inspect.ID)
	}
	return img, nil
}

// Push satisfies pkg/registry.Registry.
func (d *Docker) Push(ctx context.Context, img image.Image) error {
	resp, err := d.client.ImagePush(ctx, img.Ref.String(), dockerimage.PushOptions{
		RegistryAuth: d.auth,
	})
	if err != nil {
		return errors.Wrapf(err, "starting push of %s", img.Ref.String())
	}
	defer resp.Close()
	return errors.Wrapf(drainBuildOutput(resp), "pushing %s", img.Ref.String())
}

// drainBuildOutput consumes the engine's JSON message stream, turning
// an embedded error message into an error. The engine reports build
// and push failures mid-stream, not via the HTTP status.
func drainBuildOutput(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Error string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}
	}
}
