package gmailclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/jakechorley/snow-dispatch/internal/config"
	"github.com/jakechorley/snow-dispatch/pkg/utils"
)

// Client sends customer emails through the Gmail API
type Client struct {
	service      *gmail.Service
	ctx          context.Context
	from         string
	interval     time.Duration
	lastSendTime time.Time
	sendMutex    sync.Mutex
}

// NewClient creates a Gmail client from a stored OAuth token. The token must carry the gmail.send scope.
func NewClient(ctx context.Context, oauthCfg *config.OAuthClientConfig, token *oauth2.Token, from string) (*Client, error) {
	oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth config: %w", err)
	}

	service, err := gmail.NewService(ctx, option.WithHTTPClient(oauthConfig.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return newClient(ctx, service, from), nil
}

// NewClientWithService wraps an existing Gmail service, e.g. one pointed at a test server
func NewClientWithService(ctx context.Context, service *gmail.Service, from string) *Client {
	return newClient(ctx, service, from)
}

func newClient(ctx context.Context, service *gmail.Service, from string) *Client {
	return &Client{
		service:  service,
		ctx:      ctx,
		from:     from,
		interval: MIN_SEND_INTERVAL,
	}
}
