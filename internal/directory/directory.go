// Package directory is the narrow interface to the intranet's user
// directory. The messaging core stores only user ids; names, emails and
// avatars are resolved here at render time.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Profile is the directory's view of a user.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Resolver looks up user profiles. Unknown ids are simply absent from the
// result, never an error.
type Resolver interface {
	Resolve(ctx context.Context, userIDs []string) (map[string]Profile, error)
	Exists(ctx context.Context, userID string) (bool, error)
}

// HTTPResolver resolves profiles against the intranet directory service.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver for the directory at baseURL.
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Resolve fetches profiles in one batch request.
func (r *HTTPResolver) Resolve(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	if len(userIDs) == 0 {
		return map[string]Profile{}, nil
	}

	u := fmt.Sprintf("%s/users?ids=%s", r.baseURL, url.QueryEscape(strings.Join(userIDs, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned %d", resp.StatusCode)
	}

	var profiles []Profile
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		return nil, err
	}

	result := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		result[p.ID] = p
	}
	return result, nil
}

// Exists reports whether the directory knows userID.
func (r *HTTPResolver) Exists(ctx context.Context, userID string) (bool, error) {
	profiles, err := r.Resolve(ctx, []string{userID})
	if err != nil {
		return false, err
	}
	_, ok := profiles[userID]
	return ok, nil
}

// Static is an in-memory resolver for development and tests.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewStatic creates a resolver seeded with the given profiles.
func NewStatic(profiles ...Profile) *Static {
	s := &Static{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

// Add registers a profile.
func (s *Static) Add(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *Static) Resolve(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]Profile)
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Static) Exists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[userID]
	return ok, nil
}

// Permissive resolves nothing but accepts every id. Used when no directory
// is configured: mention validation passes and rendering shows raw ids.
type Permissive struct{}

func (Permissive) Resolve(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	return map[string]Profile{}, nil
}

func (Permissive) Exists(ctx context.Context, userID string) (bool, error) {
	return true, nil
}
