package provenance

import "encoding/json"

// renderJSON marshals a LineageManifest for the JSON render format.
func renderJSON(m LineageManifest) (string, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
