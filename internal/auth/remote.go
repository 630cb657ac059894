package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RemoteVerifier 把用户 token 交给凭证服务 /auth/validate 校验，请求带服务 token
type RemoteVerifier struct {
	baseURL string
	tokens  *ServiceTokenSource
	client  *http.Client
}

func NewRemoteVerifier(baseURL string, tokens *ServiceTokenSource, client *http.Client) *RemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteVerifier{baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens, client: client}
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	svc, err := v.tokens.Token(ctx)
	if err != nil {
		return Identity{}, err
	}
	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/auth/validate", bytes.NewReader(body))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+svc)

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrCredentialService, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Identity{}, ErrInvalidToken
	case resp.StatusCode == http.StatusForbidden:
		// 服务 token 被拒，下次调用强制刷新
		v.tokens.Invalidate()
		return Identity{}, fmt.Errorf("%w: service token rejected", ErrCredentialService)
	case resp.StatusCode != http.StatusOK:
		return Identity{}, fmt.Errorf("%w: validate returned %d", ErrCredentialService, resp.StatusCode)
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrCredentialService, err)
	}
	if !out.Valid || out.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	if out.Name == "" {
		out.Name = out.UserID
	}
	return Identity{UserID: out.UserID, Name: out.Name}, nil
}
