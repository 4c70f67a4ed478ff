// Package wire implements the framing between the pool manager and worker
// subprocesses: newline-delimited JSON request/response envelopes carrying
// correlation IDs, and a binary file-bundle preamble for bulk input-file
// transfer.
//
// Envelope format, one UTF-8 JSON object per line, newline-terminated:
//
//	{"id":"...","method":"...","params":{...}}
//	{"id":"...","result":{...}}
//	{"id":"...","error":{"code":-32600,"message":"..."}}
//
// Bundle format: bytes [0..2] = "RBX", byte [3] = version, bytes [4..7] =
// big-endian uint32 length L of the UTF-8 JSON metadata block
// {"files":[{"path":...,"size":...},...]}, followed by the concatenated raw
// contents of each listed file in order.
package wire
