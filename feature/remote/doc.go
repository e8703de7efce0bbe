// Package remote is a feature.Source backed by an HTTP embedding service.
//
// The service hosts the pretrained encoders; this package only speaks its
// JSON protocol:
//
//	POST {endpoint}/v1/embed
//	{"family": "xlsr", "layer": 18, "items": [{"id": "a", "path": "/data/a.wav"}]}
//
//	200 OK
//	{"dim": 1024, "items": [{"id": "a", "samples": 32000, "data": [...]}]}
//
// Three encoder families are recognized: xlsr (fairseq-style), s3prl
// (hidden-state hub models) and whisper (encoder output). Whisper pads input
// to 30 s, so its rows are truncated to int(samples/16000*50).
package remote
