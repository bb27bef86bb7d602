package utils

// MaskSecret hides a credential for display. An unset secret stays visibly unset.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "*****"
}
