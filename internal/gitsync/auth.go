package gitsync

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"

	"github.com/datasetsync/hfsync/internal/config"
)

// AuthenticatedURL returns remote's URL with the resolved credentials embedded
// as userinfo. Remotes without credentials are returned unchanged.
func (s *Synchronizer) AuthenticatedURL(ctx context.Context, remote *config.Remote) (string, error) {
	if remote.Credentials == nil {
		return remote.URL, nil
	}

	typed, err := remote.Credentials.Resolve(ctx)
	if err != nil {
		return "", err
	}

	return authURL(ctx, &s.gh, remote.URL, typed)
}

func authURL(ctx context.Context, gh *github, rawURL string, value any) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("credentials require an http(s) remote url, got scheme %q", u.Scheme)
	}

	switch value := value.(type) {
	case config.SecretTokenAuth:
		u.User = url.UserPassword(cmp.Or(value.Username, owner(u.Path)), value.Token)

	case config.SecretBasicAuth:
		u.User = url.UserPassword(value.Username, value.Password)

	case config.SecretGitHubApp:
		token, err := gh.Token(ctx, value.IntegrationID, value.InstallationID, value.PrivateKey)
		if err != nil {
			return "", err
		}
		u.User = url.UserPassword("x-access-token", token)

	default:
		return "", fmt.Errorf("unsupported authentication type for git: %T", value)
	}

	return u.String(), nil
}

// owner returns the account segment of a repository path. Hugging Face paths
// carry a repository type prefix, as in /datasets/<owner>/<name>.
func owner(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) > 2 {
		switch segments[0] {
		case "datasets", "spaces", "models":
			return segments[1]
		}
	}
	return segments[0]
}

type github struct {
	integrationID  int64
	installationID int64
	privateKey     []byte
	tr             *ghinstallation.Transport
	mu             sync.Mutex
}

func (gh *github) Token(ctx context.Context, integrationID, installationID int64, privateKeyFile string) (string, error) {
	privateKey, err := os.ReadFile(privateKeyFile)
	if err != nil {
		return "", err
	}

	tr, err := gh.transport(integrationID, installationID, privateKey)
	if err != nil {
		return "", err
	}

	token, err := tr.Token(ctx)
	if err != nil {
		return "", err
	}

	return token, nil
}

func (gh *github) transport(integrationID, installationID int64, privateKey []byte) (*ghinstallation.Transport, error) {
	gh.mu.Lock()
	defer gh.mu.Unlock()

	if gh.tr == nil || gh.integrationID != integrationID || gh.installationID != installationID || !bytes.Equal(gh.privateKey, privateKey) {
		tr, err := ghinstallation.New(http.DefaultTransport, integrationID, installationID, privateKey)
		if err != nil {
			return nil, err
		}

		gh.integrationID = integrationID
		gh.installationID = installationID
		gh.privateKey = privateKey
		gh.tr = tr
	}

	return gh.tr, nil
}
