package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SigningPolicy holds tunable business rules of the signing core.
type SigningPolicy struct {
	MaxReasonLength          int           `mapstructure:"maxReasonLength"`
	InvitationTTL            time.Duration `mapstructure:"invitationTTL"`
	ShareViewMaxTTL          time.Duration `mapstructure:"shareViewMaxTTL"`
	DownloadURLTTL           time.Duration `mapstructure:"downloadURLTTL"`
	DefaultDigestAlgorithm   string        `mapstructure:"defaultDigestAlgorithm"`
	AllowedSigningAlgorithms []string      `mapstructure:"allowedSigningAlgorithms"`
	ConsentVersion           string        `mapstructure:"consentVersion"`
	MaxSigners               int           `mapstructure:"maxSigners"`
}

func DefaultSigningPolicy() SigningPolicy {
	return SigningPolicy{
		MaxReasonLength:          500,
		InvitationTTL:            72 * time.Hour,
		ShareViewMaxTTL:          24 * time.Hour,
		DownloadURLTTL:           15 * time.Minute,
		DefaultDigestAlgorithm:   "sha256",
		AllowedSigningAlgorithms: []string{"EdDSA", "ES256"},
		ConsentVersion:           "2024-01",
		MaxSigners:               50,
	}
}

// AllowsSigningAlgorithm reports whether alg is enabled by the policy.
func (p SigningPolicy) AllowsSigningAlgorithm(alg string) bool {
	alg = strings.TrimSpace(alg)
	for _, allowed := range p.AllowedSigningAlgorithms {
		if strings.EqualFold(allowed, alg) {
			return true
		}
	}
	return false
}

type PolicyHolder struct {
	current atomic.Value // holds SigningPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy SigningPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("signing-policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/signflow")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SIGNFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfg.PolicyPath != "" {
			return nil, fmt.Errorf("read signing policy: %w", err)
		}
		fileLoaded = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Printf("[signing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[signing-policy] reloaded from %s", filepath.Base(e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() SigningPolicy {
	if h == nil {
		return DefaultSigningPolicy()
	}
	return h.current.Load().(SigningPolicy)
}

// decodePolicy overlays the "policy" section on top of the defaults.
func decodePolicy(v *viper.Viper) (SigningPolicy, error) {
	policy := DefaultSigningPolicy()
	policy.AllowedSigningAlgorithms = nil
	if err := v.UnmarshalKey("policy", &policy); err != nil {
		return SigningPolicy{}, err
	}
	if len(policy.AllowedSigningAlgorithms) == 0 {
		policy.AllowedSigningAlgorithms = DefaultSigningPolicy().AllowedSigningAlgorithms
	}
	if err := validatePolicy(policy); err != nil {
		return SigningPolicy{}, err
	}
	return policy, nil
}

func validatePolicy(p SigningPolicy) error {
	if p.MaxReasonLength <= 0 {
		return errors.New("policy.maxReasonLength must be positive")
	}
	if p.InvitationTTL <= 0 {
		return errors.New("policy.invitationTTL must be positive")
	}
	if p.ShareViewMaxTTL <= 0 || p.DownloadURLTTL <= 0 {
		return errors.New("policy url ttls must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(p.DefaultDigestAlgorithm)) {
	case "sha256", "sha3-256", "blake2b-256":
	default:
		return fmt.Errorf("policy.defaultDigestAlgorithm %q is not supported", p.DefaultDigestAlgorithm)
	}
	if len(p.AllowedSigningAlgorithms) == 0 {
		return errors.New("policy.allowedSigningAlgorithms cannot be empty")
	}
	if strings.TrimSpace(p.ConsentVersion) == "" {
		return errors.New("policy.consentVersion cannot be empty")
	}
	if p.MaxSigners <= 0 {
		return errors.New("policy.maxSigners must be positive")
	}
	return nil
}
