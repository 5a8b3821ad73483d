package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowAppPasswordGuide prints how to create a Bluesky app password
func ShowAppPasswordGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "BLUESKY APP PASSWORD")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The crawler signs in with an app password, not your account password.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  1. Open https://bsky.app and sign in")
	fmt.Fprintln(w, "  2. Go to Settings > Privacy and security > App passwords")
	fmt.Fprintln(w, "  3. Click 'Add App Password' and name it (for example 'bskycrawler')")
	fmt.Fprintln(w, "  4. Copy the generated value, it looks like xxxx-xxxx-xxxx-xxxx")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Your identifier is your handle (alice.bsky.social), your DID, or your email.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "App passwords can be revoked at any time from the same settings page.")
	fmt.Fprintln(w, "They are shown only once, so save the value before closing the dialog.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
}

// ShowQuickGuide prints a one-line reminder
func ShowQuickGuide(w io.Writer) {
	fmt.Fprintln(w, "\nApp password: bsky.app > Settings > Privacy and security > App passwords")
	fmt.Fprintln(w, "Type 'help' for detailed instructions")
}
