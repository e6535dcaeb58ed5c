package domain

// ModelType is the kind of AI model a token is issued for.
type ModelType string

const (
	ModelTypeText  ModelType = "text"
	ModelTypeImage ModelType = "image"
	ModelTypeAudio ModelType = "audio"
	ModelTypeVideo ModelType = "video"
)

// IsValid checks if the model type is a known value.
func (t ModelType) IsValid() bool {
	switch t {
	case ModelTypeText, ModelTypeImage, ModelTypeAudio, ModelTypeVideo:
		return true
	}
	return false
}

// Model is a tokenized model and its on-chain fungible asset.
// Corresponds to models table in PostgreSQL.
type Model struct {
	ID               string    // primary key
	Name             string    // display name
	Type             ModelType // text | image | audio | video
	Description      string    // optional
	OwnerID          string    // owning user
	TokenName        string    // fungible asset name
	TokenSymbol      string    // fungible asset symbol
	TokenAddress     string    // fungible asset metadata address, immutable once set
	CustodialAddress string    // model account that signs mint/burn
	CustodialKeyRef  string    // reference resolved by the custody provider, never raw key material
	QuotedPrice      float64   // APT per token, >= 0
	Version          int64     // incremented on every price write
	CreatedAt        int64     // record creation timestamp (ms)
	UpdatedAt        int64     // last price write (ms)
}

// HasToken reports whether the model has been paired with a ledger token.
func (m *Model) HasToken() bool {
	return m != nil && m.TokenAddress != ""
}
