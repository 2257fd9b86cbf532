package raster

// HasAlpha reports whether the last band of m is an alpha channel.
func HasAlpha(m *Image) bool {
	return HasAlphaBands(m.bands, m.interp)
}

// HasAlphaBands applies the alpha rule to a band count and interpretation.
// CMYK carries alpha only as a fifth band, so a four band CMYK raster is opaque.
func HasAlphaBands(bands int, interp Interpretation) bool {
	return (bands == 2 && interp == BW) ||
		(bands == 4 && interp != CMYK) ||
		(bands == 5 && interp == CMYK)
}
