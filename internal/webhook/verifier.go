package webhook

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"modelplayground/internal/cache"
	"modelplayground/internal/core"
	"modelplayground/internal/util"

	"github.com/bytedance/sonic"
)

// Verification failures. All of them map to 401 at the HTTP boundary.
var (
	ErrMissingHeaders   = errors.New("missing webhook signature headers")
	ErrInvalidTimestamp = errors.New("invalid webhook timestamp")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNoSigningKeys    = errors.New("no webhook signing keys available")
)

type jwks struct {
	Keys []struct {
		Kty string `json:"kty"`
		Crv string `json:"crv"`
		X   string `json:"x"`
	} `json:"keys"`
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	JWKSURL    string
	HTTPClient *http.Client
	Cache      *cache.CacheService
	Logger     core.Logger
	Tolerance  time.Duration
	Now        func() time.Time
}

// Verifier checks ED25519 webhook signatures against the provider's published keys.
type Verifier struct {
	jwksURL    string
	httpClient *http.Client
	cache      *cache.CacheService
	cacheKey   string
	logger     core.Logger
	tolerance  time.Duration
	now        func() time.Time
}

// NewVerifier fills defaults for every unset field.
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = core.DefaultFalJWKSURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewCacheService()
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NopLogger{}
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = core.WebhookTimestampTolerance
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{
		jwksURL:    cfg.JWKSURL,
		httpClient: cfg.HTTPClient,
		cache:      cfg.Cache,
		cacheKey:   cache.GenerateJWKSCacheKey(cfg.JWKSURL),
		logger:     cfg.Logger,
		tolerance:  cfg.Tolerance,
		now:        cfg.Now,
	}
}

// SignedMessage is the byte string the provider signs for a delivery.
func SignedMessage(requestID, userID, timestamp string, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(strings.Join([]string{requestID, userID, timestamp, hex.EncodeToString(sum[:])}, "\n"))
}

// Verify checks the delivery headers and body. Cached keys that fail to verify trigger one
// refetch in case the provider rotated them.
func (v *Verifier) Verify(ctx context.Context, header http.Header, body []byte) error {
	requestID := header.Get(core.HeaderFalWebhookRequestID)
	userID := header.Get(core.HeaderFalWebhookUserID)
	timestamp := header.Get(core.HeaderFalWebhookTimestamp)
	signatureHex := header.Get(core.HeaderFalWebhookSignature)
	if requestID == "" || userID == "" || timestamp == "" || signatureHex == "" {
		return ErrMissingHeaders
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, timestamp)
	}
	skew := v.now().Sub(time.Unix(seconds, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew.Round(time.Second))
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	message := SignedMessage(requestID, userID, timestamp, body)

	keys, cached := v.cache.GetSigningKeys(v.cacheKey)
	if !cached {
		if keys, err = v.refreshKeys(ctx); err != nil {
			return err
		}
	}
	if verifyAny(keys, message, signature) {
		return nil
	}
	if !cached {
		return ErrInvalidSignature
	}

	v.logger.Debug("Webhook signature did not match cached keys, refetching JWKS")
	if keys, err = v.refreshKeys(ctx); err != nil {
		return err
	}
	if verifyAny(keys, message, signature) {
		return nil
	}
	return ErrInvalidSignature
}

func verifyAny(keys []ed25519.PublicKey, message, signature []byte) bool {
	for _, key := range keys {
		if ed25519.Verify(key, message, signature) {
			return true
		}
	}
	return false
}

func (v *Verifier) refreshKeys(ctx context.Context) ([]ed25519.PublicKey, error) {
	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	v.cache.SetSigningKeys(v.cacheKey, keys, core.JWKSCacheTTL)
	v.logger.Debug("Loaded %d webhook signing keys", len(keys))
	return keys, nil
}

func (v *Verifier) fetchKeys(ctx context.Context) ([]ed25519.PublicKey, error) {
	req, err := util.NewJSONRequest(ctx, http.MethodGet, v.jwksURL, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS: %w", err)
	}

	var set jwks
	if err := sonic.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make([]ed25519.PublicKey, 0, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "" && k.Kty != "OKP" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.X, "="))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			v.logger.Warn("Skipping malformed JWKS key")
			continue
		}
		keys = append(keys, ed25519.PublicKey(raw))
	}
	if len(keys) == 0 {
		return nil, ErrNoSigningKeys
	}
	return keys, nil
}
