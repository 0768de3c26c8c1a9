package syncwsgi

import "fmt"

// WildcardPolicyFile builds the Flash cross-domain policy document that
// grants every origin access to every port on this host, for a Listener
// configured to answer the <policy-file-request/> probe. Flash's socket
// API has no notion of CORS, so without this a SWF client embedded on a
// third-party page cannot open a socket back to this server at all.
func WildcardPolicyFile() []byte {
	return []byte(fmt.Sprintf(
		"<?xml version=\"1.0\"?>\n"+
			"<!DOCTYPE cross-domain-policy SYSTEM \"http://www.macromedia.com/xml/dtds/cross-domain-policy.dtd\">\n"+
			"<cross-domain-policy>\n"+
			"  <allow-access-from domain=\"*\" to-ports=\"*\" />\n"+
			"</cross-domain-policy>\n"))
}

// ScopedPolicyFile builds a cross-domain policy document restricted to the
// given origin domains and port range, for deployments that don't want to
// grant blanket access.
func ScopedPolicyFile(domains []string, toPorts string) []byte {
	out := "<?xml version=\"1.0\"?>\n" +
		"<!DOCTYPE cross-domain-policy SYSTEM \"http://www.macromedia.com/xml/dtds/cross-domain-policy.dtd\">\n" +
		"<cross-domain-policy>\n"
	for _, d := range domains {
		out += fmt.Sprintf("  <allow-access-from domain=%q to-ports=%q />\n", d, toPorts)
	}
	out += "</cross-domain-policy>\n"
	return []byte(out)
}
