// Package qrcode はアカウントページに表示するログイン用QRコードを生成する。
package qrcode

import (
	"encoding/base64"
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

// qrSize は生成するPNG画像の一辺のピクセル数。
const qrSize = 256

// DataURL は指定URLをエンコードしたQRコードPNGのdata URLを返す。
// 返り値はimgタグのsrc属性にそのまま使える形式。
func DataURL(url string) (string, error) {
	png, err := qr.Encode(url, qr.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(png)
	return "data:image/png;base64," + encoded, nil
}
