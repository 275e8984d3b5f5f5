// Package llmstream implements the request/response transport against the
// language-model backend: session lifecycle calls plus chunked streaming of
// one chat turn into structured events.
package llmstream
