package federationinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Abraxas-365/bastion/pkg/iam/federation"
	"golang.org/x/oauth2"
)

const maxUserInfoSize = 1 << 20

// Attributes names the userinfo fields read by OAuth2Provider.
type Attributes struct {
	Username  string
	FirstName string
	LastName  string
	Name      string
	Roles     string
}

func (a Attributes) withDefaults() Attributes {
	if a.Username == "" {
		a.Username = "email"
	}
	if a.FirstName == "" {
		a.FirstName = "given_name"
	}
	if a.LastName == "" {
		a.LastName = "family_name"
	}
	if a.Name == "" {
		a.Name = "name"
	}
	return a
}

// OAuth2ProviderConfig configures one authorization-code provider.
type OAuth2ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
	Attributes   Attributes
	// RoleMapping maps provider role values to local role names.
	RoleMapping map[string]string
}

// OAuth2Provider runs the authorization-code flow and reads the userinfo
// endpoint to build a verified identity.
type OAuth2Provider struct {
	name        string
	oauth       *oauth2.Config
	userInfoURL string
	attrs       Attributes
	roleMapping map[string]string
}

func NewOAuth2Provider(cfg OAuth2ProviderConfig) *OAuth2Provider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &OAuth2Provider{
		name: cfg.Name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		attrs:       cfg.Attributes.withDefaults(),
		roleMapping: cfg.RoleMapping,
	}
}

func (p *OAuth2Provider) Name() string { return p.name }

func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*federation.Identity, error) {
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, federation.ErrExchangeFailed(err)
	}

	resp, err := p.oauth.Client(ctx, tok).Get(p.userInfoURL)
	if err != nil {
		return nil, federation.ErrExchangeFailed(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, federation.ErrExchangeFailed(fmt.Errorf("userinfo returned %d", resp.StatusCode))
	}

	var info map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoSize)).Decode(&info); err != nil {
		return nil, federation.ErrExchangeFailed(err)
	}
	return p.identity(info)
}

func (p *OAuth2Provider) identity(info map[string]interface{}) (*federation.Identity, error) {
	id := &federation.Identity{
		Provider: p.name,
		Username: str(info, p.attrs.Username),
	}
	if id.Username == "" {
		return nil, federation.ErrMissingUsername()
	}

	first, okFirst := info[p.attrs.FirstName].(string)
	last, okLast := info[p.attrs.LastName].(string)
	if okFirst && okLast {
		id.FirstName, id.LastName = first, last
	} else {
		id.FirstName, id.LastName = federation.SplitName(str(info, p.attrs.Name))
	}

	if p.attrs.Roles != "" && len(p.roleMapping) > 0 {
		for _, v := range strs(info[p.attrs.Roles]) {
			if local, ok := p.roleMapping[v]; ok {
				id.ClaimedRoles = append(id.ClaimedRoles, local)
			}
		}
	}
	return id, nil
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// strs accepts a single string or a list of strings.
func strs(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
