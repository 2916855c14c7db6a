// Package mock provides controllable implementations of the relay transport
// interfaces for testing purposes.
//
// Each type embeds testify's mock.Mock, so expectations are declared with On
// and checked with AssertExpectations.
//
// Usage:
//
//	conn := mock.NewConn()
//	conn.On("Exec", mock.Anything, mock.Anything).Return(mock.NewChannel("hi\n", "", relay.ExitStatus{}), nil)
//
//	tr := mock.New()
//	tr.On("Connect", mock.Anything).Return(conn, nil)
//	client, _ := relay.New(tr)
package mock
