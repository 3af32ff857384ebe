// Package shoutcast opens HTTP/ICY audio streams for relaying.
//
// It started as a fork of github.com/romantomjak/shoutcast and keeps its
// shape, adapted for a pass-through relay:
//   - Metadata interleaving is explicitly disabled (Icy-MetaData: 0), so the
//     body is returned byte for byte
//   - The response status is reported to the caller instead of being treated
//     as an error, so relays can apply their own failure policy
//   - Playlist resolution: .pls and .m3u URLs can be resolved to the actual
//     stream URL
//   - No client timeout on the stream body so long-running relays are supported
package shoutcast
