// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"strconv"

	"github.com/streadway/amqp"

	"github.com/dtorres/electrumd/lib/msg"
	mtype "github.com/dtorres/electrumd/lib/msg/types"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains an amqp channel and declares the "ee" ("explorer events") exchange the
// indexer publishes block and transaction events to.
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchange
	return channel.ExchangeDeclare("ee", "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	return r.conn.Close()
}

func (r *Amqp) publish(key string, headers amqp.Table, body []byte) error {
	// obtain channel if not present
	if r.ch == nil {
		var err error
		if r.ch, err = r.conn.Channel(); err != nil {
			return err
		}
	}

	return r.ch.Publish("ee", key, false, false, amqp.Publishing{
		Headers:     headers,
		Body:        body,
		ContentType: "application/json",
	})
}

// SendBlock publishes a block event to the "ee" exchange.
func (r *Amqp) SendBlock(e msg.BlockEvent) error {
	jsonDoc, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := e.Net + ".block." + strconv.FormatInt(e.Height, 10)
	if err = r.publish(key, amqp.Table{"x-block-name": e.Net + "." + e.Hash}, jsonDoc); err != nil {
		log.Printf("[%s] Error sending block event to message broker %e", e.Net, err)
	}

	return err
}

// SendTrans publishes transaction events to the "ee" exchange
func (r *Amqp) SendTrans(net string, evts []mtype.TxEvent) (err error) {
	for _, t := range evts {
		// marshal to JSON
		var jsonDoc []byte
		if jsonDoc, err = json.Marshal(t); err != nil {
			return
		}
		// publish
		if err = r.publish(net+".trans."+t.TxID, amqp.Table{"x-trans-name": net + "." + t.TxID}, jsonDoc); err != nil {
			log.Printf("[%s] Error sending transaction event to message broker %e", net, err)
		}
	}
	return
}
