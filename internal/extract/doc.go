// Package extract turns a raw article into untrusted structured fields by
// asking an LLM for a fixed JSON schema. The Engine owns the prompt, the
// per-call timeout, and the retry budget; field values are checked later by
// event.Validate.
package extract
