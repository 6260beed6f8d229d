package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/austindbirch/harbor_scheduler/internal/auth"
)

// SpaceConfig holds the scheduling settings for one space. Empty field
// names disable the matching lane.
type SpaceConfig struct {
	SpaceID         string
	PublishField    string
	UnpublishField  string
	ManagementToken string
	Auth            auth.Policy // nil means no policy
}

// Validators maps names usable in `validation: {validator: <name>}` to
// header predicates supplied by the embedding program.
type Validators map[string]auth.ValidateFunc

// Spaces is the immutable per-space lookup built at startup.
type Spaces struct {
	byID map[string]SpaceConfig
}

type rawSpace struct {
	SpaceID         string         `mapstructure:"space_id"`
	PublishField    string         `mapstructure:"publish_field"`
	UnpublishField  string         `mapstructure:"unpublish_field"`
	ManagementToken string         `mapstructure:"management_token"`
	Auth            map[string]any `mapstructure:"auth"`
}

// NewSpaces builds a lookup from already-resolved space settings.
func NewSpaces(spaces ...SpaceConfig) (*Spaces, error) {
	byID := make(map[string]SpaceConfig, len(spaces))
	for _, s := range spaces {
		if s.SpaceID == "" {
			return nil, errors.New("space_id is required")
		}
		if _, dup := byID[s.SpaceID]; dup {
			return nil, fmt.Errorf("space %s configured more than once", s.SpaceID)
		}
		byID[s.SpaceID] = s
	}
	return &Spaces{byID: byID}, nil
}

// Get returns the settings for a space.
func (s *Spaces) Get(spaceID string) (SpaceConfig, bool) {
	if s == nil {
		return SpaceConfig{}, false
	}
	sc, ok := s.byID[spaceID]
	return sc, ok
}

// Policy returns the auth policy for a space; ok is false when the space is
// unknown or has no auth block.
func (s *Spaces) Policy(spaceID string) (auth.Policy, bool) {
	sc, ok := s.Get(spaceID)
	if !ok || sc.Auth == nil {
		return nil, false
	}
	return sc.Auth, true
}

// IDs returns the configured space IDs in sorted order.
func (s *Spaces) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of configured spaces.
func (s *Spaces) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byID)
}

// LoadSpaces reads per-space settings from a YAML, JSON or TOML file.
// Spaces are a list so space IDs keep their case:
//
//	spaces:
//	  - space_id: cfexampleapi
//	    publish_field: publishDate
//	    unpublish_field: unpublishDate
//	    management_token: ${CMA_TOKEN}
//	    auth:
//	      key: X-Webhook-Token
//	      valid_tokens: [secret-1, secret-2]
//
// Token values are passed through os.ExpandEnv.
func LoadSpaces(path string, validators Validators) (*Spaces, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read spaces file %s: %w", path, err)
	}
	return spacesFromViper(v, validators)
}

// ReadSpaces is LoadSpaces over an in-memory document of the given format
// ("yaml", "json", "toml").
func ReadSpaces(r io.Reader, format string, validators Validators) (*Spaces, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read spaces config: %w", err)
	}
	return spacesFromViper(v, validators)
}

func spacesFromViper(v *viper.Viper, validators Validators) (*Spaces, error) {
	var raw []rawSpace
	if err := v.UnmarshalKey("spaces", &raw); err != nil {
		return nil, fmt.Errorf("decode spaces: %w", err)
	}

	resolved := make([]SpaceConfig, 0, len(raw))
	for i, r := range raw {
		if r.SpaceID == "" {
			return nil, fmt.Errorf("spaces[%d]: space_id is required", i)
		}
		token := os.ExpandEnv(r.ManagementToken)
		if token == "" {
			return nil, fmt.Errorf("space %s: management_token is required", r.SpaceID)
		}
		resolved = append(resolved, SpaceConfig{
			SpaceID:         r.SpaceID,
			PublishField:    r.PublishField,
			UnpublishField:  r.UnpublishField,
			ManagementToken: token,
			Auth:            ResolvePolicy(r.Auth, validators),
		})
	}
	return NewSpaces(resolved...)
}

// ResolvePolicy turns a loosely-shaped auth block into a Policy. A nil block
// means no policy. Shapes:
//
//	{key, valid_tokens: string | [string]}          -> KeyValue
//	{key, validation: {validator: name}}            -> Predicate from validators
//	{key, validation: {jwt: {secret|public_key, issuer, audience}}} -> Predicate
//	{key, validation: {pattern: regexp}}            -> Predicate
//
// Anything else, including a validator name missing from validators,
// resolves to Deny. DefaultValidators lists the built-in names.
func ResolvePolicy(block map[string]any, validators Validators) auth.Policy {
	if block == nil {
		return nil
	}

	key := cast.ToString(block["key"])
	if key == "" {
		return auth.Deny{Reason: "auth block has no key"}
	}

	if tokens, ok := block["valid_tokens"]; ok {
		switch t := tokens.(type) {
		case string:
			return auth.KeyValue{HeaderKey: key, AllowedValues: []string{t}}
		case []any, []string:
			values, err := cast.ToStringSliceE(t)
			if err != nil {
				return auth.Deny{Reason: "valid_tokens is not a list of strings"}
			}
			return auth.KeyValue{HeaderKey: key, AllowedValues: values}
		default:
			return auth.Deny{Reason: fmt.Sprintf("valid_tokens has unsupported type %T", tokens)}
		}
	}

	validation, ok := block["validation"]
	if !ok {
		return auth.Deny{Reason: "auth block has neither valid_tokens nor validation"}
	}

	if name, isName := validation.(string); isName {
		return namedPredicate(key, name, validators)
	}

	opts, err := cast.ToStringMapE(validation)
	if err != nil {
		return auth.Deny{Reason: "validation must be a name or a mapping"}
	}

	switch {
	case opts["validator"] != nil:
		return namedPredicate(key, cast.ToString(opts["validator"]), validators)
	case opts["jwt"] != nil:
		validator, err := jwtValidator(opts["jwt"])
		if err != nil {
			return auth.Deny{Reason: err.Error()}
		}
		return auth.Predicate{HeaderKey: key, Validate: validator.Validate}
	case opts["pattern"] != nil:
		re, err := regexp.Compile(cast.ToString(opts["pattern"]))
		if err != nil {
			return auth.Deny{Reason: fmt.Sprintf("invalid validation pattern: %v", err)}
		}
		return auth.Predicate{HeaderKey: key, Validate: re.MatchString}
	default:
		return auth.Deny{Reason: "unrecognized validation block"}
	}
}

// namedPredicate looks name up in validators; unregistered names deny.
func namedPredicate(key, name string, validators Validators) auth.Policy {
	fn, ok := validators[name]
	if !ok || fn == nil {
		return auth.Deny{Reason: fmt.Sprintf("unknown validator %q", name)}
	}
	return auth.Predicate{HeaderKey: key, Validate: fn}
}

func jwtValidator(raw any) (*auth.JWTValidator, error) {
	opts, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, fmt.Errorf("jwt validation must be a mapping")
	}
	issuer := cast.ToString(opts["issuer"])
	audience := cast.ToString(opts["audience"])

	if secret := os.ExpandEnv(cast.ToString(opts["secret"])); secret != "" {
		return auth.NewHMACValidator(secret, issuer, audience)
	}
	publicKey := cast.ToString(opts["public_key"])
	if file := cast.ToString(opts["public_key_file"]); publicKey == "" && file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		publicKey = string(b)
	}
	if publicKey == "" {
		return nil, fmt.Errorf("jwt validation needs secret or public_key")
	}
	return auth.NewJWTValidator(publicKey, issuer, audience)
}
