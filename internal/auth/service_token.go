package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultServiceTokenLifetime = 24 * time.Hour
	DefaultRefreshMargin        = 5 * time.Minute
)

type ServiceTokenConfig struct {
	URL       string
	ServiceID string
	Secret    string
	// Lifetime 凭证服务没有返回 expiresIn 时使用
	Lifetime time.Duration
	Margin   time.Duration
	// RetryWait 后台刷新失败后的重试间隔
	RetryWait time.Duration
	// FetchTimeout 单次换取 token 的上限，与调用方的 ctx 无关
	FetchTimeout time.Duration
}

// ServiceTokenSource 用共享密钥换取服务 token 并缓存，到期前 Margin 刷新。
// 并发刷新合并为一次请求
type ServiceTokenSource struct {
	cfg    ServiceTokenConfig
	client *http.Client
	log    *log.Logger
	group  singleflight.Group
	now    func() time.Time

	mu      sync.RWMutex
	token   string
	expires time.Time
}

func NewServiceTokenSource(cfg ServiceTokenConfig, client *http.Client, logger *log.Logger) *ServiceTokenSource {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultServiceTokenLifetime
	}
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultRefreshMargin
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ServiceTokenSource{cfg: cfg, client: client, log: logger.WithPrefix("service-token"), now: time.Now}
}

func (s *ServiceTokenSource) cached() (string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.expires
}

func (s *ServiceTokenSource) fresh(expires time.Time) bool {
	return s.now().Before(expires.Add(-s.cfg.Margin))
}

// Token 返回可用的服务 token，临近过期时同步刷新
func (s *ServiceTokenSource) Token(ctx context.Context) (string, error) {
	if tok, exp := s.cached(); tok != "" && s.fresh(exp) {
		return tok, nil
	}
	return s.Refresh(ctx)
}

// Invalidate 凭证服务拒绝当前 token 时调用
func (s *ServiceTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expires = time.Time{}
}

type serviceTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Refresh 合并并发刷新。共享请求不随任何一个调用方取消，
// 调用方自己的 ctx 结束时只是不再等待
func (s *ServiceTokenSource) Refresh(ctx context.Context) (string, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()
		return s.fetch(fctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *ServiceTokenSource) fetch(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"serviceId": s.cfg.ServiceID, "secret": s.cfg.Secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+"/auth/service-token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: service-token returned %d", ErrCredentialService, resp.StatusCode)
	}

	var out serviceTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialService, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: empty service token", ErrCredentialService)
	}

	lifetime := s.cfg.Lifetime
	if out.ExpiresIn > 0 {
		lifetime = time.Duration(out.ExpiresIn) * time.Second
	}
	s.mu.Lock()
	s.token = out.Token
	s.expires = s.now().Add(lifetime)
	s.mu.Unlock()
	s.log.Info("service token refreshed", "lifetime", lifetime)
	return out.Token, nil
}

// nextRefresh 距离下次后台刷新的等待时间
func (s *ServiceTokenSource) nextRefresh() time.Duration {
	tok, exp := s.cached()
	if tok == "" {
		return 0
	}
	return max(exp.Add(-s.cfg.Margin).Sub(s.now()), time.Second)
}

// Run 后台按 lifetime - margin 刷新，失败后按 RetryWait 重试
func (s *ServiceTokenSource) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(s.nextRefresh())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.Refresh(ctx); err != nil {
			s.log.Warn("service token refresh failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryWait):
			}
		}
	}
}
