package account

import (
	"bytes"
	"encoding/json"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
)

const eip712DomainType = "EIP712Domain"

// domainFieldOrder is the canonical EIP712Domain member order.
var domainFieldOrder = []platform.TypedDataField{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
	{Name: "salt", Type: "bytes32"},
}

// TypedDataHash returns the EIP-712 signing digest of data. When the payload
// omits the EIP712Domain type it is inferred from the domain's members.
func TypedDataHash(data platform.TypedData) ([]byte, error) {
	td, err := toAPITypes(data)
	if err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "hash typed data", err)
	}
	return digest, nil
}

func toAPITypes(data platform.TypedData) (apitypes.TypedData, error) {
	if data.PrimaryType == "" {
		return apitypes.TypedData{}, clierr.New(clierr.CodeUsage, "typed data primary type is required")
	}
	types := make(map[string][]platform.TypedDataField, len(data.Types)+1)
	for name, fields := range data.Types {
		types[name] = fields
	}
	if _, ok := types[eip712DomainType]; !ok {
		var fields []platform.TypedDataField
		for _, f := range domainFieldOrder {
			if _, present := data.Domain[f.Name]; present {
				fields = append(fields, f)
			}
		}
		types[eip712DomainType] = fields
	}
	raw, err := json.Marshal(platform.TypedData{
		Domain:      data.Domain,
		Types:       types,
		PrimaryType: data.PrimaryType,
		Message:     data.Message,
	})
	if err != nil {
		return apitypes.TypedData{}, clierr.Wrap(clierr.CodeUsage, "encode typed data", err)
	}
	// apitypes only takes integers losslessly as strings.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return apitypes.TypedData{}, clierr.Wrap(clierr.CodeUsage, "decode typed data", err)
	}
	if raw, err = json.Marshal(stringifyNumbers(tree)); err != nil {
		return apitypes.TypedData{}, clierr.Wrap(clierr.CodeUsage, "encode typed data", err)
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(raw, &td); err != nil {
		return apitypes.TypedData{}, clierr.Wrap(clierr.CodeUsage, "decode typed data", err)
	}
	return td, nil
}

func stringifyNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case map[string]any:
		for k, child := range t {
			t[k] = stringifyNumbers(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = stringifyNumbers(child)
		}
		return t
	default:
		return v
	}
}
