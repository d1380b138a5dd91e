// Package storagepath builds and checks blob keys for document attachments.
//
// Keys have the shape
//
//	{prefix}/{stableId}/documents/{syncId}/{disambiguator}-{fileName}
//
// where stableId is the identity provider's immutable user id and the
// disambiguator is a unix-millisecond value fixed when the attachment is
// created. Equal inputs always give the same key.
//
// Keys written by older clients used the user's display name:
//
//	documents/{displayName}/{syncId}/{fileName}
//
// Those are recognised by IsLegacy and rebuilt by GenerateLegacy so the
// migration can find them.
package storagepath
