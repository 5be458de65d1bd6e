package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/rotator/internal/services"
	"github.com/desertthunder/rotator/internal/shared"
)

// MockRemote is an in-memory test double for the remote playlist writer.
type MockRemote struct {
	mu        sync.Mutex
	next      int
	tracks    map[string][]string
	metadata  map[string][2]string
	calls     []string
	failures  map[string]error
	failCount map[string]int
}

// NewMockRemote creates an empty MockRemote.
func NewMockRemote() *MockRemote {
	return &MockRemote{
		tracks:    make(map[string][]string),
		metadata:  make(map[string][2]string),
		failures:  make(map[string]error),
		failCount: make(map[string]int),
	}
}

// FailOn makes the named method fail with an error wrapping [shared.ErrRemoteSync] for the next
// times calls. A negative times fails until reset with FailOn(method, 0).
func (r *MockRemote) FailOn(method string, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if times == 0 {
		delete(r.failures, method)
		delete(r.failCount, method)
		return
	}
	r.failures[method] = fmt.Errorf("%w: mock %s failure", shared.ErrRemoteSync, method)
	r.failCount[method] = times
}

func (r *MockRemote) fail(method string) error {
	err, ok := r.failures[method]
	if !ok {
		return nil
	}
	if r.failCount[method] > 0 {
		r.failCount[method]--
		if r.failCount[method] == 0 {
			delete(r.failures, method)
		}
	}
	return err
}

// Calls returns the method names invoked so far, in order.
func (r *MockRemote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Tracks returns the uris currently stored for a remote playlist.
func (r *MockRemote) Tracks(remoteID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tracks[remoteID]...)
}

// Metadata returns the name and description of a remote playlist.
func (r *MockRemote) Metadata(remoteID string) (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.metadata[remoteID]
	return m[0], m[1]
}

func (r *MockRemote) CreateRemotePlaylist(ctx context.Context, cred services.Credential, name, description string) (services.RemotePlaylist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "CreateRemotePlaylist")
	if err := r.fail("CreateRemotePlaylist"); err != nil {
		return services.RemotePlaylist{}, err
	}
	r.next++
	id := fmt.Sprintf("remote-%d", r.next)
	r.tracks[id] = nil
	r.metadata[id] = [2]string{name, description}
	return services.RemotePlaylist{ID: id, ExternalURL: "https://open.spotify.com/playlist/" + id}, nil
}

func (r *MockRemote) ReplaceRemoteTracks(ctx context.Context, cred services.Credential, remoteID string, uris []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "ReplaceRemoteTracks")
	if err := r.fail("ReplaceRemoteTracks"); err != nil {
		return err
	}
	if _, ok := r.tracks[remoteID]; !ok {
		return fmt.Errorf("%w: unknown remote playlist %s", shared.ErrRemoteSync, remoteID)
	}
	r.tracks[remoteID] = append([]string(nil), uris...)
	return nil
}

func (r *MockRemote) UpdateRemoteMetadata(ctx context.Context, cred services.Credential, remoteID, name, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "UpdateRemoteMetadata")
	if err := r.fail("UpdateRemoteMetadata"); err != nil {
		return err
	}
	r.metadata[remoteID] = [2]string{name, description}
	return nil
}

// StaticCredentials hands out the same credential for every account.
type StaticCredentials struct {
	Cred services.Credential
	Err  error
}

func (c StaticCredentials) Credential(ctx context.Context, accountID string) (services.Credential, error) {
	if c.Err != nil {
		return services.Credential{}, c.Err
	}
	if c.Cred.AccessToken == "" {
		return services.Credential{AccessToken: "token-" + accountID, RemoteUserID: "user-" + accountID}, nil
	}
	return c.Cred, nil
}
