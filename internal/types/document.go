package types

// DocumentType identifies a legally-regulated document class that requires
// a gap-controlled sequential number per tenant and calendar year.
type DocumentType string

const (
	DocumentTypeFacture DocumentType = "FACTURE"
	DocumentTypeAvoir   DocumentType = "AVOIR"
	DocumentTypeRecu    DocumentType = "RECU"
)

// legalNumberPrefixes maps each regulated document type to the fixed prefix
// embedded in its legal numbers. The prefix is immutable once a counter row
// exists for a scope.
var legalNumberPrefixes = map[DocumentType]string{
	DocumentTypeFacture: "FAC",
	DocumentTypeAvoir:   "AVO",
	DocumentTypeRecu:    "REC",
}

// RequiresLegalNumber reports whether the document type belongs to the
// regulated set and therefore must be numbered through the allocator.
func RequiresLegalNumber(dt DocumentType) bool {
	_, ok := legalNumberPrefixes[dt]
	return ok
}

// LegalNumberPrefix returns the fixed prefix for a regulated document type.
// The second return value is false for types outside the regulated set.
func LegalNumberPrefix(dt DocumentType) (string, bool) {
	prefix, ok := legalNumberPrefixes[dt]
	return prefix, ok
}

func (dt DocumentType) String() string {
	return string(dt)
}

func (dt DocumentType) Validate() bool {
	return RequiresLegalNumber(dt)
}
