package model

// AssetKind identifies one of the per-registration file classes kept in
// the object store.  The string value doubles as the folder name.
type AssetKind string

const (
	AssetExcel        AssetKind = "excel"
	AssetPaymentProof AssetKind = "payment_proofs"
	AssetPhotos       AssetKind = "photos"
	AssetReceipt      AssetKind = "receipts"
)

// AssetKinds lists every folder in the order cleanup visits them.
var AssetKinds = []AssetKind{AssetExcel, AssetPaymentProof, AssetPhotos, AssetReceipt}

// ParseAssetKind maps a URL segment to an AssetKind.
func ParseAssetKind(s string) (AssetKind, bool) {
	switch s {
	case "excel", "spreadsheet":
		return AssetExcel, true
	case "payment_proofs", "payment-proof", "payment_proof":
		return AssetPaymentProof, true
	case "photos", "photo":
		return AssetPhotos, true
	case "receipts", "receipt":
		return AssetReceipt, true
	}
	return "", false
}
