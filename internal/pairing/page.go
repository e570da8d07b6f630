package pairing

import (
	"bytes"
	"html/template"
)

// PageData feeds the pairing page template.
type PageData struct {
	Status    string
	Connected bool
	// QRDataURL is empty when no pairing payload is pending.
	QRDataURL template.URL
}

var pageTmpl = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>WhatsApp pairing</title>
{{- if not .Connected}}
{{- if .QRDataURL}}
<meta http-equiv="refresh" content="60">
{{- else}}
<meta http-equiv="refresh" content="5">
{{- end}}
{{- end}}
<style>
body { font-family: sans-serif; text-align: center; margin-top: 3em; }
.status { font-weight: bold; }
img { margin-top: 1em; }
</style>
</head>
<body>
<h1>WhatsApp pairing</h1>
<p>Connection status: <span class="status">{{.Status}}</span></p>
{{- if .QRDataURL}}
<p>Open WhatsApp on your phone, go to Linked devices and scan this code.</p>
<img src="{{.QRDataURL}}" alt="pairing QR code">
{{- if not .Connected}}
<script>setTimeout(function () { window.location.reload(); }, 20000);</script>
{{- end}}
{{- else if .Connected}}
<p>The client is connected. No pairing needed.</p>
{{- else}}
<p>No QR code available yet. This page refreshes automatically.</p>
{{- end}}
</body>
</html>
`))

// RenderPage renders the pairing HTML page.
func RenderPage(data PageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
