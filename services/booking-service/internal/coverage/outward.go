package coverage

import "strings"

// OutwardCode returns the outward part of a UK-style postcode: the normalised postcode minus
// its three-character inward code. Short or blank input yields "".
func OutwardCode(postcode string) string {
	compact := strings.ToUpper(strings.Join(strings.Fields(postcode), ""))
	if len(compact) <= 3 {
		return ""
	}
	return compact[:len(compact)-3]
}
