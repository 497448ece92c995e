// Package heif provides a pure Go reader and writer for the HEIF and AVIF
// image container formats.
//
// HEIF and AVIF store images as items inside an ISO base-media-file-format
// box tree: coded pictures, grids of tiles, overlays, thumbnails, auxiliary
// planes such as alpha and depth, and metadata blobs, all linked by typed
// references. This package parses that structure, composes derived images,
// and serializes new files, without any CGo dependencies.
//
// The package supports:
//   - Item graph parsing (iinf, iloc, iprp, iref, idat, grpl)
//   - Derived images: grids, overlays, identity items
//   - Transform properties: crop, rotation, mirror
//   - Thumbnails, alpha and depth auxiliaries, EXIF metadata
//   - Parallel tile decoding with cancellation
//   - Security limits against malformed or hostile files
//   - Pluggable codecs; a built-in uncompressed codec is included
//   - Writing files: images, grids, overlays, thumbnails, metadata
//
// Compressed bitstream decoding (HEVC, AV1, ...) is delegated to codec
// plugins registered with the codec package.
//
// Basic usage for reading:
//
//	c := heif.NewContext()
//	if err := c.ReadFromFile("photo.heic"); err != nil { ... }
//	handle, err := c.PrimaryImage()
//	img, err := handle.Decode(ctx, nil)
//
// Basic usage for writing:
//
//	c := heif.NewContext()
//	id, err := c.AddImage(img, nil)
//	c.SetPrimaryImage(id)
//	err = c.WriteToFile("out.heif")
package heif
