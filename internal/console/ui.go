package console

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[2m"
)

var nameColors = []string{
	"\033[31m", // red
	"\033[32m", // green
	"\033[33m", // yellow
	"\033[34m", // blue
	"\033[35m", // magenta
	"\033[36m", // cyan
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// pickColor maps a name to a stable color.
func pickColor(s string) string {
	if s == "" {
		return ansiReset
	}
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*16777619 ^ uint32(s[i])
	}
	return nameColors[h%uint32(len(nameColors))]
}

// formatName colors a peer's display name, falling back to its short id.
func formatName(name, fallbackID string) string {
	display := name
	if display == "" {
		display = shortID(fallbackID)
	}
	return pickColor(display) + display + ansiReset
}

func PrintBanner(p Printer, n Node) {
	p.Println()
	p.Println("Node started.")
	p.Printf("Name:           %s\n", n.Name())
	p.Printf("ID:             %s\n", n.ID().Hex())
	p.Printf("Addr:           %s\n", n.ListenAddr())
	p.Println()
	PrintCommands(p)
	p.Println()
}

func PrintCommands(p Printer) {
	p.Println("Commands:")
	p.Println("    /me                  - prints your info")
	p.Println("    /peers               - show routing table peers")
	p.Println("    /ping <node id>      - round trip a ping through the overlay")
	p.Println("    /find <node id>      - ask the closest peer for ids near a target")
	p.Println("    /help                - show this list")
	p.Println("    /quit                - exit")
}
