package entity

// FieldKind selects the equality rule applied to a field during conflict
// detection.
type FieldKind string

const (
	KindAny       FieldKind = ""          // inferred from the value
	KindString    FieldKind = "string"    // compared after trimming whitespace
	KindCurrency  FieldKind = "currency"  // compared with a half-cent tolerance
	KindNumber    FieldKind = "number"    // compared with a tight float tolerance
	KindTimestamp FieldKind = "timestamp" // compared at second granularity
	KindBool      FieldKind = "bool"
)

// Schema describes the comparable fields of one entity type.
type Schema struct {
	Type   string
	Fields map[string]FieldKind
	// Ignore lists bookkeeping fields that never count as divergence.
	Ignore []string
}

// Kind returns the declared kind of field, or KindAny when undeclared.
func (s Schema) Kind(field string) FieldKind {
	if s.Fields == nil {
		return KindAny
	}
	return s.Fields[field]
}

// Ignored reports whether field is excluded from comparison.
func (s Schema) Ignored(field string) bool {
	for _, f := range s.Ignore {
		if f == field {
			return true
		}
	}
	return false
}

var defaultIgnore = []string{"id", "created_at", "updated_at", "external_id", "version"}

// BuiltinSchemas returns the schemas of the entity types shipped with the
// application, keyed by type.
func BuiltinSchemas() map[string]Schema {
	return map[string]Schema{
		TypePayment: {
			Type: TypePayment,
			Fields: map[string]FieldKind{
				"amount":      KindCurrency,
				"currency":    KindString,
				"status":      KindString,
				"method":      KindString,
				"reference":   KindString,
				"paid_at":     KindTimestamp,
				"client_id":   KindString,
				"invoice_id":  KindString,
				"description": KindString,
			},
			Ignore: defaultIgnore,
		},
		TypeInvoice: {
			Type: TypeInvoice,
			Fields: map[string]FieldKind{
				"number":     KindString,
				"client_id":  KindString,
				"status":     KindString,
				"subtotal":   KindCurrency,
				"tax":        KindCurrency,
				"total":      KindCurrency,
				"currency":   KindString,
				"issued_at":  KindTimestamp,
				"due_at":     KindTimestamp,
				"paid":       KindBool,
				"notes":      KindString,
				"line_count": KindNumber,
			},
			Ignore: defaultIgnore,
		},
		TypeExpense: {
			Type: TypeExpense,
			Fields: map[string]FieldKind{
				"amount":      KindCurrency,
				"currency":    KindString,
				"category":    KindString,
				"vendor":      KindString,
				"incurred_at": KindTimestamp,
				"description": KindString,
				"billable":    KindBool,
			},
			Ignore: defaultIgnore,
		},
	}
}
