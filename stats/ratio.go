package stats

// Ratio is uploaded over downloaded, or 0 if nothing has been downloaded.
func Ratio(uploaded, downloaded int64) float64 {
	if downloaded == 0 {
		return 0
	}
	return float64(uploaded) / float64(downloaded)
}
