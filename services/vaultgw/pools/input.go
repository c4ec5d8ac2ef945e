package pools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks request payload errors.
var ErrValidation = errors.New("pools: validation failed")

// ValidationError carries a client-facing message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var requiredFields = []string{"token0", "token1", "feeTier", "concentration", "owner"}

// CreateInput is a validated pool creation request.
type CreateInput struct {
	Token0        string     `json:"token0" validate:"max=64"`
	Token1        string     `json:"token1" validate:"max=64"`
	FeeTier       float64    `json:"feeTier" validate:"gt=0"`
	Concentration string     `json:"concentration" validate:"max=32"`
	Owner         string     `json:"owner" validate:"max=64"`
	TVL           float64    `json:"tvl" validate:"gte=0"`
	Volume24h     float64    `json:"volume24h" validate:"gte=0"`
	APR           float64    `json:"apr"`
	FeesCollected float64    `json:"feesCollected" validate:"gte=0"`
	ReserveRatios string     `json:"reserveRatios" validate:"max=255"`
	LTVRatio      float64    `json:"ltvRatio" validate:"gte=0"`
	LastRebalance *time.Time `json:"lastRebalance"`
}

// Patch lists the mutable pool fields. Nil pointers are left untouched.
type Patch struct {
	Token0        *string    `json:"token0" validate:"omitempty,min=1,max=64"`
	Token1        *string    `json:"token1" validate:"omitempty,min=1,max=64"`
	FeeTier       *float64   `json:"feeTier" validate:"omitempty,gt=0"`
	Concentration *string    `json:"concentration" validate:"omitempty,min=1,max=32"`
	Owner         *string    `json:"owner" validate:"omitempty,min=1,max=64"`
	TVL           *float64   `json:"tvl" validate:"omitempty,gte=0"`
	Volume24h     *float64   `json:"volume24h" validate:"omitempty,gte=0"`
	APR           *float64   `json:"apr"`
	FeesCollected *float64   `json:"feesCollected" validate:"omitempty,gte=0"`
	ReserveRatios *string    `json:"reserveRatios" validate:"omitempty,max=255"`
	LTVRatio      *float64   `json:"ltvRatio" validate:"omitempty,gte=0"`
	LastRebalance *time.Time `json:"lastRebalance"`
}

// TransactionInput records pool activity.
type TransactionInput struct {
	Kind    string  `json:"kind" validate:"required,oneof=swap add remove"`
	Amount0 float64 `json:"amount0" validate:"gte=0"`
	Amount1 float64 `json:"amount1" validate:"gte=0"`
	TxHash  string  `json:"txHash" validate:"omitempty,len=66,startswith=0x,hexadecimal"`
	Account string  `json:"account" validate:"omitempty,eth_addr"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		return name
	})
	return v
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return invalid("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return invalid("%s failed %s", fe.Field(), fe.Tag())
	}
	return invalid("%v", err)
}

// ParseCreate validates a creation payload. Every required field must be
// present and truthy (a zero feeTier counts as missing), string fields must
// not be blank, and feeTier must be numeric.
func ParseCreate(body []byte) (CreateInput, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return CreateInput{}, invalid("Failed to create pool")
	}
	for _, field := range requiredFields {
		if isMissing(raw[field]) {
			return CreateInput{}, invalid("Missing or empty required field: %s", field)
		}
	}
	if _, ok := raw["feeTier"].(float64); !ok {
		return CreateInput{}, invalid("feeTier must be a valid number")
	}
	var in CreateInput
	if err := json.Unmarshal(body, &in); err != nil {
		return CreateInput{}, invalid("Failed to create pool: %v", err)
	}
	in.Token0 = strings.TrimSpace(in.Token0)
	in.Token1 = strings.TrimSpace(in.Token1)
	in.Owner = strings.TrimSpace(in.Owner)
	if err := validate.Struct(in); err != nil {
		return CreateInput{}, describe(err)
	}
	return in, nil
}

func isMissing(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case float64:
		return v == 0
	case bool:
		return !v
	default:
		return false
	}
}

// ParsePatch decodes an update payload. Unknown fields are rejected.
func ParsePatch(body []byte) (Patch, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var patch Patch
	if err := dec.Decode(&patch); err != nil {
		return Patch{}, invalid("Failed to update pool: %v", err)
	}
	if err := validate.Struct(patch); err != nil {
		return Patch{}, describe(err)
	}
	return patch, nil
}

// ParseTransaction decodes a pool transaction payload.
func ParseTransaction(body []byte) (TransactionInput, error) {
	var in TransactionInput
	if err := json.Unmarshal(body, &in); err != nil {
		return TransactionInput{}, invalid("invalid payload")
	}
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))
	if err := validate.Struct(in); err != nil {
		return TransactionInput{}, describe(err)
	}
	return in, nil
}

func (p Patch) columns() map[string]any {
	fields := map[string]any{}
	setString := func(column string, value *string) {
		if value != nil {
			fields[column] = strings.TrimSpace(*value)
		}
	}
	setFloat := func(column string, value *float64) {
		if value != nil {
			fields[column] = *value
		}
	}
	setString("token0", p.Token0)
	setString("token1", p.Token1)
	setFloat("fee_tier", p.FeeTier)
	setString("concentration", p.Concentration)
	setString("owner", p.Owner)
	setFloat("tvl", p.TVL)
	setFloat("volume24h", p.Volume24h)
	setFloat("apr", p.APR)
	setFloat("fees_collected", p.FeesCollected)
	if p.ReserveRatios != nil {
		fields["reserve_ratios"] = *p.ReserveRatios
	}
	setFloat("ltv_ratio", p.LTVRatio)
	if p.LastRebalance != nil {
		fields["last_rebalance"] = p.LastRebalance.UTC()
	}
	return fields
}
