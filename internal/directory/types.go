package directory

import "time"

// Kind discriminates the three record types served by the gateway.
type Kind string

const (
	KindChurch  Kind = "church"
	KindCounty  Kind = "county"
	KindNetwork Kind = "network"
)

// Kinds lists every entity kind in catalogue order.
var Kinds = []Kind{KindChurch, KindCounty, KindNetwork}

// Valid reports whether k names a known entity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindChurch, KindCounty, KindNetwork:
		return true
	}
	return false
}

// Plural returns the collection name used in tool and resource identifiers.
func (k Kind) Plural() string {
	switch k {
	case KindChurch:
		return "churches"
	case KindCounty:
		return "counties"
	case KindNetwork:
		return "networks"
	}
	return string(k)
}

// KindFromPlural maps a collection name back to its kind.
func KindFromPlural(plural string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Plural() == plural {
			return k, true
		}
	}
	return "", false
}

// Status is the publication state of a record. Only Listed records are
// visible to unauthenticated callers.
type Status string

const (
	StatusListed   Status = "Listed"
	StatusAssess   Status = "Assess"
	StatusDelisted Status = "Delisted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusListed, StatusAssess, StatusDelisted:
		return true
	}
	return false
}

// Record is a church, county or network row. The three kinds share one shape;
// kind-specific mutable-field allow-lists decide which fields a patch may
// touch (see MutableFields).
type Record struct {
	ID       int64
	Kind     Kind
	Name     string
	Path     string // unique slug, empty when unset
	Status   Status
	Address  string
	Postcode string
	Website  string
	Email    string
	Phone    string
	CountyID int64 // churches only, 0 when unset
	Notes    string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Version returns the optimistic-concurrency token for the record: the
// updatedAt stamp in epoch milliseconds. Clients echo it back as
// expected_updated_at on every mutation.
func (r *Record) Version() int64 {
	return r.UpdatedAt.UnixMilli()
}

// Project renders the record as a JSON-ready map. When redacted is true only
// publicly safe fields are included; authenticated callers get the full
// projection.
func (r *Record) Project(redacted bool) map[string]any {
	out := map[string]any{
		"id":     r.ID,
		"name":   r.Name,
		"status": string(r.Status),
	}
	if r.Path != "" {
		out["path"] = r.Path
	}
	if r.Website != "" {
		out["website"] = r.Website
	}
	if r.Address != "" {
		out["address"] = r.Address
	}
	if r.Postcode != "" {
		out["postcode"] = r.Postcode
	}
	if redacted {
		return out
	}
	out["updatedAt"] = r.Version()
	out["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339)
	if r.Email != "" {
		out["email"] = r.Email
	}
	if r.Phone != "" {
		out["phone"] = r.Phone
	}
	if r.Notes != "" {
		out["notes"] = r.Notes
	}
	if r.Kind == KindChurch && r.CountyID != 0 {
		out["countyId"] = r.CountyID
	}
	if r.DeletedAt != nil {
		out["deletedAt"] = r.DeletedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// MutableFields returns the allow-list of patchable fields for a kind.
// Anything outside the list is dropped from patches by omission, not error.
func MutableFields(kind Kind) []string {
	switch kind {
	case KindChurch:
		return []string{"name", "path", "status", "address", "postcode", "website", "email", "phone", "county_id", "notes"}
	case KindCounty:
		return []string{"name", "path", "status", "notes"}
	case KindNetwork:
		return []string{"name", "path", "status", "website", "notes"}
	}
	return nil
}

// applyField sets one allow-listed field on the record. Returns false when
// the value did not change, and an error only for malformed values.
func applyField(rec *Record, field string, value any) (bool, error) {
	switch field {
	case "name":
		s, ok := value.(string)
		if !ok {
			return false, Validationf("name must be a string")
		}
		if s == "" {
			return false, Validationf("name must not be empty")
		}
		if rec.Name == s {
			return false, nil
		}
		rec.Name = s
	case "path":
		s, ok := value.(string)
		if !ok {
			return false, Validationf("path must be a string")
		}
		if rec.Path == s {
			return false, nil
		}
		rec.Path = s
	case "status":
		s, ok := value.(string)
		if !ok || !Status(s).Valid() {
			return false, Validationf("status must be one of Listed, Assess, Delisted")
		}
		if rec.Status == Status(s) {
			return false, nil
		}
		rec.Status = Status(s)
	case "county_id":
		n, ok := asInt64(value)
		if !ok {
			return false, Validationf("county_id must be an integer")
		}
		if rec.CountyID == n {
			return false, nil
		}
		rec.CountyID = n
	case "address", "postcode", "website", "email", "phone", "notes":
		s, ok := value.(string)
		if !ok {
			return false, Validationf("%s must be a string", field)
		}
		var dst *string
		switch field {
		case "address":
			dst = &rec.Address
		case "postcode":
			dst = &rec.Postcode
		case "website":
			dst = &rec.Website
		case "email":
			dst = &rec.Email
		case "phone":
			dst = &rec.Phone
		case "notes":
			dst = &rec.Notes
		}
		if *dst == s {
			return false, nil
		}
		*dst = s
	default:
		return false, nil
	}
	return true, nil
}

// ApplyPatch copies recognised mutable fields from the patch onto the record
// and reports which fields changed. Unknown and immutable keys are ignored.
func ApplyPatch(rec *Record, patch map[string]any) ([]string, error) {
	allowed := MutableFields(rec.Kind)
	var changed []string
	for _, field := range allowed {
		value, ok := patch[field]
		if !ok {
			continue
		}
		did, err := applyField(rec, field, value)
		if err != nil {
			return nil, err
		}
		if did {
			changed = append(changed, field)
		}
	}
	return changed, nil
}

// Recognised reports whether the patch names at least one mutable field of
// the kind, changed or not. An update whose patch recognises nothing is a
// validation error.
func Recognised(kind Kind, patch map[string]any) bool {
	for _, field := range MutableFields(kind) {
		if _, ok := patch[field]; ok {
			return true
		}
	}
	return false
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	}
	return 0, false
}
