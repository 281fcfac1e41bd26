package election

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// LoadHosts reads a host file, one "<address> <port>" pair per line. Blank
// lines and lines starting with # are skipped.
func LoadHosts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseHosts(f)
}

func parseHosts(r io.Reader) ([]string, error) {
	addrs := []string{}

	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected \"<address> <port>\", got %q", line, text)
		}

		addrs = append(addrs, net.JoinHostPort(fields[0], fields[1]))
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return addrs, nil
}
