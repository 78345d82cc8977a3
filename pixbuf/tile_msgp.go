package pixbuf

// msgpack encoding of the values that cross the dispatcher boundary.  Field keys are
// short, stable names so the encoding does not depend on Go field names.

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler
func (z *TileAddress) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 7)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendInt64(o, z.ImageID)
	o = msgp.AppendString(o, "z")
	o = msgp.AppendInt(o, z.Z)
	o = msgp.AppendString(o, "c")
	o = msgp.AppendInt(o, z.C)
	o = msgp.AppendString(o, "t")
	o = msgp.AppendInt(o, z.T)
	o = msgp.AppendString(o, "res")
	o = msgp.AppendInt(o, z.Resolution)
	o = msgp.AppendString(o, "region")
	o, err = z.Region.MarshalMsg(o)
	if err != nil {
		err = msgp.WrapError(err, "Region")
		return
	}
	o = msgp.AppendString(o, "fmt")
	o = msgp.AppendString(o, string(z.Format))
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *TileAddress) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	z.Resolution = FullResolution
	for sz > 0 {
		sz--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "id":
			z.ImageID, bts, err = msgp.ReadInt64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "ImageID")
				return
			}
		case "z":
			z.Z, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Z")
				return
			}
		case "c":
			z.C, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "C")
				return
			}
		case "t":
			z.T, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "T")
				return
			}
		case "res":
			z.Resolution, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Resolution")
				return
			}
		case "region":
			bts, err = z.Region.UnmarshalMsg(bts)
			if err != nil {
				err = msgp.WrapError(err, "Region")
				return
			}
		case "fmt":
			var s string
			s, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Format")
				return
			}
			z.Format = Format(s)
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *TileAddress) Msgsize() (s int) {
	s = msgp.MapHeaderSize +
		msgp.StringPrefixSize + 2 + msgp.Int64Size +
		3*(msgp.StringPrefixSize+1+msgp.IntSize) +
		msgp.StringPrefixSize + 3 + msgp.IntSize +
		msgp.StringPrefixSize + 6 + z.Region.Msgsize() +
		msgp.StringPrefixSize + 3 + msgp.StringPrefixSize + len(z.Format)
	return
}

// MarshalMsg implements msgp.Marshaler
func (z Region) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 4)
	o = msgp.AppendInt(o, z.X)
	o = msgp.AppendInt(o, z.Y)
	o = msgp.AppendInt(o, z.Width)
	o = msgp.AppendInt(o, z.Height)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *Region) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var asz uint32
	asz, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if asz != 4 {
		err = msgp.ArrayError{Wanted: 4, Got: asz}
		return
	}
	for _, dst := range []*int{&z.X, &z.Y, &z.Width, &z.Height} {
		*dst, bts, err = msgp.ReadIntBytes(bts)
		if err != nil {
			return
		}
	}
	o = bts
	return
}

func (z Region) Msgsize() (s int) {
	s = msgp.ArrayHeaderSize + 4*msgp.IntSize
	return
}

// MarshalMsg implements msgp.Marshaler
func (z *Credential) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 4)
	o = msgp.AppendString(o, "key")
	o = msgp.AppendString(o, z.SessionKey)
	o = msgp.AppendString(o, "user")
	o = msgp.AppendInt64(o, z.UserID)
	o = msgp.AppendString(o, "groups")
	o = msgp.AppendArrayHeader(o, uint32(len(z.GroupIDs)))
	for _, g := range z.GroupIDs {
		o = msgp.AppendInt64(o, g)
	}
	o = msgp.AppendString(o, "admin")
	o = msgp.AppendBool(o, z.Admin)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *Credential) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for sz > 0 {
		sz--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "key":
			z.SessionKey, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "SessionKey")
				return
			}
		case "user":
			z.UserID, bts, err = msgp.ReadInt64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "UserID")
				return
			}
		case "groups":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "GroupIDs")
				return
			}
			z.GroupIDs = make([]int64, n)
			for i := range z.GroupIDs {
				z.GroupIDs[i], bts, err = msgp.ReadInt64Bytes(bts)
				if err != nil {
					err = msgp.WrapError(err, "GroupIDs", i)
					return
				}
			}
		case "admin":
			z.Admin, bts, err = msgp.ReadBoolBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Admin")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *Credential) Msgsize() (s int) {
	s = msgp.MapHeaderSize +
		msgp.StringPrefixSize + 3 + msgp.StringPrefixSize + len(z.SessionKey) +
		msgp.StringPrefixSize + 4 + msgp.Int64Size +
		msgp.StringPrefixSize + 6 + msgp.ArrayHeaderSize + len(z.GroupIDs)*msgp.Int64Size +
		msgp.StringPrefixSize + 5 + msgp.BoolSize
	return
}
