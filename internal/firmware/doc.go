// Package firmware upgrades the tracker's firmware over a link.
//
// An upgrade runs in three phases, each a reply-bearing command:
//
//  1. Start: version, image size and the MD5 of the whole image.
//  2. Transfer: fixed-size chunks in ascending index order, each
//     acknowledged before the next is sent.
//  3. End: commit the image.
//
// A chunk answered with failed or crcError, or not answered in time, is
// resent up to Config.MaxChunkRetries times. A chunk answered with
// inProgress is resent after Config.PollDelay without counting as a
// failure. Anything else is terminal and reported as a *Failure.
//
// Progress is reported as 10 once the device accepts the start command,
// then rises with each acknowledged chunk, and reaches 100 only after the
// end command succeeds.
//
//	u := firmware.New(dispatcher, firmware.DefaultConfig())
//	err := u.Run(ctx, version, image, func(p int) {
//	    fmt.Printf("\r%3d%%", p)
//	})
package firmware
