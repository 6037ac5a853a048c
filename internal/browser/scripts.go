package browser

import _ "embed"

// The annotation pair is an opaque DOM-mutation payload. The contract with the
// rest of the system: annotate assigns IndexAttribute to every interactive
// element and returns the digests; clear removes every artifact it added,
// leaving the DOM otherwise unchanged.

//go:embed scripts/annotate.js
var annotateScript string

//go:embed scripts/clear.js
var clearScript string
