package cache

// base58Alphabet is the Bitcoin base58 alphabet, used to name a cache
// entry's digest directory.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// encodeBase58 renders b in base58, matching the convention of
// leading-zero-byte preservation as leading '1' characters.
func encodeBase58(b []byte) string {
	zeros := 0
	for zeros < len(b) && b[zeros] == 0 {
		zeros++
	}

	// big-endian byte slice treated as a base-256 number, divided
	// repeatedly by 58.
	input := append([]byte{}, b...)
	var out []byte
	for len(input) > 0 {
		var remainder int
		var quotient []byte
		for _, v := range input {
			acc := remainder*256 + int(v)
			d := acc / 58
			remainder = acc % 58
			if len(quotient) > 0 || d > 0 {
				quotient = append(quotient, byte(d))
			}
		}
		out = append(out, base58Alphabet[remainder])
		input = quotient
	}

	for i := 0; i < zeros; i++ {
		out = append(out, base58Alphabet[0])
	}
	// reverse
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
