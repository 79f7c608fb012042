package session

import "encoding/json"

func encodeFrame(f interface{}) ([]byte, error) {
	return json.Marshal(f)
}
