package models

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Slot is a symbolic model identifier, decoupled from the concrete backend
// URL/credential binding. A session selects a slot at startup and may be
// switched to a different slot mid-session by the forced-switch path or by
// mutual-agreement compaction handoff; the binding it resolves to is
// otherwise immutable for the session.
type Slot struct {
	// Kind is one of the closed set of slot kinds. For KindCustom, Name
	// carries the operator-facing identifier.
	Kind SlotKind
	Name string
}

// SlotKind enumerates the closed set of symbolic model slots.
type SlotKind string

const (
	SlotBlu       SlotKind = "blu"
	SlotGrn       SlotKind = "grn"
	SlotRed       SlotKind = "red"
	SlotAnthropic SlotKind = "anthropic"
	SlotCustom    SlotKind = "custom"
)

// String renders the slot the way it would appear in a switch request or a
// system message recording a forced switch.
func (s Slot) String() string {
	if s.Kind == SlotCustom && s.Name != "" {
		return s.Name
	}
	return string(s.Kind)
}

// ParseSlot resolves an operator-facing model string to a Slot. Recognized
// names (case-insensitive) map onto the closed set directly; anything else
// becomes a Custom slot carrying the original name. A Custom slot whose name
// contains "claude" is later treated as Anthropic-backed by the transport
// classifier in Resolve, even though its Kind remains SlotCustom.
func ParseSlot(name string) (Slot, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Slot{}, ErrInvalidModel
	}
	switch strings.ToLower(trimmed) {
	case "blu":
		return Slot{Kind: SlotBlu}, nil
	case "grn":
		return Slot{Kind: SlotGrn}, nil
	case "red":
		return Slot{Kind: SlotRed}, nil
	case "anthropic":
		return Slot{Kind: SlotAnthropic}, nil
	default:
		return Slot{Kind: SlotCustom, Name: trimmed}, nil
	}
}

// TransportKind identifies which wire protocol a BackendBinding speaks.
type TransportKind string

const (
	TransportOpenAICompatible TransportKind = "openai_compatible"
	TransportAnthropicNative  TransportKind = "anthropic_native"
	TransportLocal            TransportKind = "local"
)

// BackendBinding resolves a Slot to a concrete backend: transport kind, base
// URL, credential, and an optional model-name override. Built from
// configuration at startup and immutable for the session.
type BackendBinding struct {
	Slot       Slot
	Transport  TransportKind
	BaseURL    string
	Credential string
	ModelName  string
}

// SlotConfig is the per-slot configuration the Router resolves against:
// an explicit base URL, a credential environment variable name, and an
// optional model-name override. Any field left empty falls through to the
// next step in the resolution order.
type SlotConfig struct {
	BaseURL       string
	CredentialEnv string
	ModelName     string
	// RequiresCredential marks a slot whose backend will not function
	// without a resolved credential (e.g. a hosted vendor API, as opposed
	// to an unauthenticated local llama.cpp server).
	RequiresCredential bool
}

// Errors returned by Router.Resolve.
var (
	// ErrInvalidModel indicates a switch request named a slot outside the
	// closed set and outside what ParseSlot can coerce into Custom.
	ErrInvalidModel = errors.New("invalid model")

	// ErrMissingCredential indicates a slot's backend requires a
	// credential but none could be resolved from configuration or
	// environment.
	ErrMissingCredential = errors.New("missing credential")
)

// Router resolves a ModelSlot and the session's BackendBinding table into a
// concrete BackendBinding. Resolution order: (a) per-slot explicit URL in
// configuration; (b) per-slot
// credential environment variable; (c) global fallback to the default
// OpenAI-compatible backend.
type Router struct {
	// Slots holds per-slot configuration keyed by Slot.String().
	Slots map[string]SlotConfig

	// DefaultBaseURL and DefaultCredentialEnv back the global fallback
	// OpenAI-compatible backend used when a slot has no explicit URL.
	DefaultBaseURL       string
	DefaultCredentialEnv string

	// LookupEnv resolves an environment variable name to a value. Defaults
	// to os.LookupEnv; tests may override it to avoid touching the real
	// environment.
	LookupEnv func(key string) (string, bool)
}

// NewRouter constructs a Router with os.LookupEnv wired as the credential
// source.
func NewRouter(slots map[string]SlotConfig, defaultBaseURL, defaultCredentialEnv string) *Router {
	return &Router{
		Slots:                slots,
		DefaultBaseURL:       defaultBaseURL,
		DefaultCredentialEnv: defaultCredentialEnv,
		LookupEnv:            os.LookupEnv,
	}
}

// Resolve builds the BackendBinding for a slot. The transport classifier
// operates on the resolved base URL: a URL containing the substring
// "anthropic" selects the Anthropic client; otherwise, if a per-slot URL was
// set, the local (OpenAI-compatible) client; otherwise the default
// OpenAI-compatible client. A Custom slot whose name contains "claude" is
// treated as Anthropic-backed regardless of URL.
func (r *Router) Resolve(slot Slot) (*BackendBinding, error) {
	if r == nil {
		return nil, fmt.Errorf("resolve %s: %w", slot, ErrInvalidModel)
	}
	if slot.Kind == "" {
		return nil, ErrInvalidModel
	}

	cfg, known := r.Slots[slot.String()]
	hasExplicitURL := known && cfg.BaseURL != ""

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = r.DefaultBaseURL
	}

	credentialEnv := cfg.CredentialEnv
	if credentialEnv == "" {
		credentialEnv = r.DefaultCredentialEnv
	}
	credential := r.lookupCredential(credentialEnv)

	requiresCredential := cfg.RequiresCredential || strings.Contains(strings.ToLower(baseURL), "anthropic") || slot.Kind == SlotAnthropic
	if requiresCredential && credential == "" {
		return nil, fmt.Errorf("slot %s: %w", slot, ErrMissingCredential)
	}

	binding := &BackendBinding{
		Slot:       slot,
		BaseURL:    baseURL,
		Credential: credential,
		ModelName:  cfg.ModelName,
		Transport:  classifyTransport(slot, baseURL, hasExplicitURL),
	}
	return binding, nil
}

// lookupCredential reads an environment variable via the configured lookup
// function, returning "" when unset or when no lookup is configured.
func (r *Router) lookupCredential(name string) string {
	if name == "" || r.LookupEnv == nil {
		return ""
	}
	if v, ok := r.LookupEnv(name); ok {
		return v
	}
	return ""
}

func classifyTransport(slot Slot, baseURL string, hasExplicitURL bool) TransportKind {
	lower := strings.ToLower(baseURL)
	if strings.Contains(lower, "anthropic") {
		return TransportAnthropicNative
	}
	if slot.Kind == SlotAnthropic {
		return TransportAnthropicNative
	}
	if slot.Kind == SlotCustom && strings.Contains(strings.ToLower(slot.Name), "claude") {
		return TransportAnthropicNative
	}
	if hasExplicitURL {
		return TransportLocal
	}
	return TransportOpenAICompatible
}
