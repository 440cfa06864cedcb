// Package ocds provides schema-flexible access to OCDS release documents
// and the normaliser that maps them onto canonical buyer and notice records.
//
// Raw releases are opaque JSON with a pinned set of required paths; the
// Object accessors return zero values for anything absent or mistyped so
// consume points never panic on schema drift.
package ocds

// Object is a JSON object with typed, default-returning accessors.
type Object map[string]any

// Release is a raw OCDS release document.
type Release = Object

// Str returns the string at key, or "" when absent or not a string.
func (o Object) Str(key string) string {
	s, _ := o[key].(string)
	return s
}

// Map returns the object at key, or an empty Object.
func (o Object) Map(key string) Object {
	if m, ok := o[key].(map[string]any); ok {
		return Object(m)
	}
	return Object{}
}

// Has reports whether key is present with a non-nil value.
func (o Object) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}

// Slice returns the array of objects at key; non-object elements are skipped.
func (o Object) Slice(key string) []Object {
	raw, ok := o[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Object, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, Object(m))
		}
	}
	return out
}

// Strings returns the array of strings at key; non-string elements are skipped.
func (o Object) Strings(key string) []string {
	raw, ok := o[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Float returns the number at key. JSON numbers decode as float64.
func (o Object) Float(key string) (float64, bool) {
	switch v := o[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the boolean at key, or false.
func (o Object) Bool(key string) bool {
	b, _ := o[key].(bool)
	return b
}

// Tender returns the release's tender block.
func (o Object) Tender() Object { return o.Map("tender") }

// Lots returns the tender's lots. Call on a tender Object.
func (o Object) Lots() []Object { return o.Slice("lots") }

// LotValue returns a lot's monetary value: amountGross when present,
// else amount, else 0.
func LotValue(lot Object) float64 {
	val := lot.Map("value")
	if v, ok := val.Float("amountGross"); ok {
		return v
	}
	if v, ok := val.Float("amount"); ok {
		return v
	}
	return 0
}

// SuitabilityDeclared reports whether the tender or any lot carries a
// suitability object at all. Absence means the VCSE/SME gate passes
// neutrally.
func SuitabilityDeclared(tender Object) bool {
	if tender.Has("suitability") {
		return true
	}
	for _, lot := range tender.Lots() {
		if lot.Has("suitability") {
			return true
		}
	}
	return false
}

// SuitableFor reports whether the tender or any lot declares the given
// suitability flag ("sme" or "vcse") as true.
func SuitableFor(tender Object, flag string) bool {
	if tender.Map("suitability").Bool(flag) {
		return true
	}
	for _, lot := range tender.Lots() {
		if lot.Map("suitability").Bool(flag) {
			return true
		}
	}
	return false
}

// NoticeRegions collects lowercase delivery regions from
// tender.items[].deliveryAddresses[].region, falling back to the buyer
// party's address region when items carry none.
func NoticeRegions(release Release) []string {
	var regions []string
	tender := release.Tender()
	for _, item := range tender.Slice("items") {
		for _, addr := range item.Slice("deliveryAddresses") {
			if r := addr.Str("region"); r != "" {
				regions = append(regions, lower(r))
			}
		}
	}
	if len(regions) > 0 {
		return regions
	}
	for _, party := range release.Slice("parties") {
		if !hasRole(party, "buyer") {
			continue
		}
		if r := party.Map("address").Str("region"); r != "" {
			regions = append(regions, lower(r))
		}
	}
	return regions
}

// AwardSuppliers returns supplier names from awards[].suppliers[].name in
// document order, de-duplicated preserving first occurrence.
func AwardSuppliers(release Release) []string {
	var names []string
	seen := make(map[string]bool)
	for _, award := range release.Slice("awards") {
		for _, s := range award.Slice("suppliers") {
			name := s.Str("name")
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func hasRole(party Object, role string) bool {
	for _, r := range party.Strings("roles") {
		if r == role {
			return true
		}
	}
	return false
}
