// Package auth holds the operator credential that gates the realtime
// channel and the backend client.
package auth

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrEmptyToken = errors.New("empty token")

type subscriber struct {
	fn func(token string)
}

// Provider is an in-memory credential holder. Subscribers run
// synchronously on the goroutine that logged in or out.
type Provider struct {
	mu    sync.RWMutex
	token string
	subs  []*subscriber
}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

func (p *Provider) LoggedIn() bool { return p.Token() != "" }

// Login stores token and notifies subscribers if it changed.
func (p *Provider) Login(token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if !p.set(token) {
		return nil
	}
	log.Info().Str("module", "auth").Msg("operator logged in")
	return nil
}

// Logout clears the credential. Logging out twice is a no-op.
func (p *Provider) Logout() {
	if p.set("") {
		log.Info().Str("module", "auth").Msg("operator logged out")
	}
}

func (p *Provider) Subscribe(fn func(token string)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.subs {
				if s == sub {
					p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (p *Provider) set(token string) bool {
	p.mu.Lock()
	if p.token == token {
		p.mu.Unlock()
		return false
	}
	p.token = token
	subs := append([]*subscriber(nil), p.subs...)
	p.mu.Unlock()

	for _, s := range subs {
		s.fn(token)
	}
	return true
}
