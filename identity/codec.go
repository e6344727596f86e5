package identity

import "encoding/json"

func marshalUser(u *User) ([]byte, error) {
	return json.Marshal(u)
}

func unmarshalUser(data []byte) (*User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func unmarshalGrant(data []byte) (Grant, error) {
	var g Grant
	err := json.Unmarshal(data, &g)
	return g, err
}
