package sseserver

import "embed"

//go:embed assets/index.html assets/app.js assets/styles.css
var staticAssets embed.FS

func mustAsset(name string) []byte {
	b, err := staticAssets.ReadFile("assets/" + name)
	if err != nil {
		panic(err)
	}

	return b
}
