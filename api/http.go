package api

const (
	// HTTPGetMedia is the path of the URL listing the media IDs a block server exports.
	HTTPGetMedia = "pieboot/v0/media"
	// HTTPGetBlocks is the format string for the URL reading a run of blocks;
	// its arguments are the media ID, the first logical block and the byte length.
	HTTPGetBlocks = "pieboot/v0/media/%s/blocks/%s/%s"

	// DefaultMaxRead is the largest length a block server returns for a
	// single HTTPGetBlocks request unless configured otherwise.
	DefaultMaxRead = 64 << 20
)
