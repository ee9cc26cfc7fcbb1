package deploy

import (
	"context"
	"strings"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shiperr "github.com/shipd-io/shipd/pkg/errors"
	"github.com/shipd-io/shipd/pkg/image"
)

const descriptor = `# Deployment for the demo app. Hand-edited; keep the comments.
apiVersion: apps/v1
kind: Deployment
metadata:
  name: demo-app
  labels:
    team: platform   # ownership label
spec:
  replicas: 3
  template:
    spec:
      containers:
        - name: demo-app
          image: ghcr.io/org/repo:sha-0000000111122223333
          ports:
            - containerPort: 8080
        - name: sidecar
          image: quay.io/other/sidecar:v4
`

func mustRef(t *testing.T, s string) image.Ref {
	ref, err := image.ParseRef(s)
	require.NoError(t, err)
	return ref
}

func newTestUpdater(store Store) *Updater {
	return &Updater{Store: store, RegistryHost: "ghcr.io", Retries: 3, Logger: log.NewNopLogger()}
}

func TestUpdateRewritesOnlyMatchingImage(t *testing.T) {
	store := NewMemStore([]byte(descriptor))
	u := newTestUpdater(store)

	newRef := mustRef(t, "ghcr.io/org/repo:sha-abc1234def5678")
	res, err := u.Update(context.Background(), "demo-app", newRef)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Outcome)

	content, _, _ := store.Read(context.Background())
	got := string(content)
	assert.Contains(t, got, "image: ghcr.io/org/repo:sha-abc1234def5678")
	// the other registry's image is untouched
	assert.Contains(t, got, "image: quay.io/other/sidecar:v4")
	// formatting-preserving: comments and labels survive
	assert.Contains(t, got, "# Deployment for the demo app.")
	assert.Contains(t, got, "team: platform   # ownership label")
}

func TestUpdateCommitMessageUsesShortTag(t *testing.T) {
	store := NewMemStore([]byte(descriptor))
	u := newTestUpdater(store)

	_, err := u.Update(context.Background(), "demo-app", mustRef(t, "ghcr.io/org/repo:sha-abc1234def5678"))
	require.NoError(t, err)

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Release abc1234 to demo-app", messages[0])
	// never the full tag in the message
	assert.NotContains(t, messages[0], "abc1234def5678")
}

func TestUpdateIsIdempotent(t *testing.T) {
	store := NewMemStore([]byte(descriptor))
	u := newTestUpdater(store)
	newRef := mustRef(t, "ghcr.io/org/repo:sha-abc1234def5678")

	res1, err := u.Update(context.Background(), "demo-app", newRef)
	require.NoError(t, err)
	assert.Equal(t, Committed, res1.Outcome)
	afterFirst, _, _ := store.Read(context.Background())

	res2, err := u.Update(context.Background(), "demo-app", newRef)
	require.NoError(t, err)
	assert.Equal(t, NoChange, res2.Outcome)
	afterSecond, _, _ := store.Read(context.Background())

	assert.Equal(t, afterFirst, afterSecond)
	assert.Len(t, store.Messages(), 1, "NoChange must not commit")
}

func TestUpdateUnknownDeployment(t *testing.T) {
	u := newTestUpdater(NewMemStore([]byte(descriptor)))
	_, err := u.Update(context.Background(), "other-app", mustRef(t, "ghcr.io/org/repo:sha-abc1234def5678"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestUpdateNoMatchingRegistryHost(t *testing.T) {
	u := newTestUpdater(NewMemStore([]byte(descriptor)))
	u.RegistryHost = "registry.example.com"
	_, err := u.Update(context.Background(), "demo-app", mustRef(t, "registry.example.com/org/repo:sha-abc1234def5678"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image entry")
}

func TestUpdateRejectsInvalidYAML(t *testing.T) {
	u := newTestUpdater(NewMemStore([]byte(":\nnot yaml: [unclosed")))
	_, err := u.Update(context.Background(), "demo-app", mustRef(t, "ghcr.io/org/repo:sha-abc1234def5678"))
	assert.Error(t, err)
}

// conflictingStore makes a competing commit just before each of the
// first n writes, so the updater's write sees a moved store.
type conflictingStore struct {
	*MemStore
	conflicts int
}

func (s *conflictingStore) Write(ctx context.Context, content []byte, baseRev string, message string) (string, error) {
	if s.conflicts > 0 {
		s.conflicts--
		_, rev, _ := s.MemStore.Read(ctx)
		other := strings.Replace(string(content), "sha-abc1234def5678", "sha-ffff000ffff0000", 1)
		if _, err := s.MemStore.Write(ctx, []byte(other), rev, "competing commit"); err != nil {
			return "", err
		}
	}
	return s.MemStore.Write(ctx, content, baseRev, message)
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	store := &conflictingStore{MemStore: NewMemStore([]byte(descriptor)), conflicts: 2}
	u := newTestUpdater(store)

	res, err := u.Update(context.Background(), "demo-app", mustRef(t, "ghcr.io/org/repo:sha-abc1234def5678"))
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Outcome)

	content, _, _ := store.Read(context.Background())
	assert.Contains(t, string(content), "sha-abc1234def5678", "retry must land our value last")
}

func TestUpdateConflictExhaustion(t *testing.T) {
	store := &conflictingStore{MemStore: NewMemStore([]byte(descriptor)), conflicts: 100}
	u := newTestUpdater(store)
	u.Retries = 2

	_, err := u.Update(context.Background(), "demo-app", mustRef(t, "ghcr.io/org/repo:sha-abc1234def5678"))
	assert.True(t, shiperr.IsKind(err, shiperr.KindUpdateConflict))
}

func TestReplaceImageRefsQuotedValue(t *testing.T) {
	content := []byte("name: demo-app\nimage: \"ghcr.io/org/repo:sha-old0000\"\n")
	updated, replaced, err := ReplaceImageRefs(content, "demo-app", "ghcr.io", mustRef(t, "ghcr.io/org/repo:sha-new0000"))
	require.NoError(t, err)
	assert.Equal(t, 1, replaced)
	assert.Contains(t, string(updated), `image: "ghcr.io/org/repo:sha-new0000"`)
}
